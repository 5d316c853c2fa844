package store

import (
	"slices"

	"github.com/kilupskalvis/revdb/internal/models"
)

// ChangeEvent is delivered to subscribers once per committed revision.
type ChangeEvent = models.ChangeEvent

type subscriber struct {
	id int
	fn func(ChangeEvent)
}

// Subscribe registers fn for change events and returns a function that
// removes it. Events arrive in commit order on the goroutine that committed.
func (d *Database) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		d.subs = slices.DeleteFunc(d.subs, func(s subscriber) bool { return s.id == id })
		d.subMu.Unlock()
	}
}

// postChange queues an event until the enclosing transaction commits, or
// delivers it at once outside a transaction.
func (d *Database) postChange(rev *models.Revision, source string) {
	ev := ChangeEvent{Revision: rev, Sequence: rev.Sequence, Source: source}
	if d.txn.depth > 0 {
		d.txn.pending = append(d.txn.pending, ev)
		return
	}
	d.deliver(ev)
}

func (d *Database) deliver(ev ChangeEvent) {
	d.subMu.Lock()
	subs := slices.Clone(d.subs)
	d.subMu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
