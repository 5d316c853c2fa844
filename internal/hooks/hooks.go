// Package hooks holds the named validation and filter functions a database
// consults when inserting revisions and building change feeds.
package hooks

import (
	"errors"
	"slices"
	"sync"

	"github.com/kilupskalvis/revdb/internal/models"
)

// ValidationFunc accepts a new revision by returning nil. Returning a
// *models.StatusError rejects with that status; any other error rejects with
// Forbidden.
type ValidationFunc func(newRev *models.Revision, vc *ValidationContext) error

// FilterFunc reports whether a revision belongs in a filtered change feed.
type FilterFunc func(rev *models.Revision) bool

// RevisionLoader loads the revision being replaced, with its body. It is
// called at most once per validation pass.
type RevisionLoader func() (*models.Revision, error)

// ValidationContext gives validators lazy access to the previous revision.
type ValidationContext struct {
	load   RevisionLoader
	loaded bool
	rev    *models.Revision
	err    error
}

// NewValidationContext wraps a loader. A nil loader means there is no
// previous revision.
func NewValidationContext(load RevisionLoader) *ValidationContext {
	return &ValidationContext{load: load}
}

// CurrentRevision returns the revision being replaced, or nil for a new
// document.
func (vc *ValidationContext) CurrentRevision() (*models.Revision, error) {
	if !vc.loaded {
		vc.loaded = true
		if vc.load != nil {
			vc.rev, vc.err = vc.load()
		}
	}
	return vc.rev, vc.err
}

// Reject builds the default rejection error.
func Reject(msg string) error {
	if msg == "" {
		msg = "invalid document"
	}
	return models.NewStatusError(models.StatusForbidden, msg)
}

// RejectWithStatus builds a rejection carrying a specific status.
func RejectWithStatus(status models.Status, msg string) error {
	return models.NewStatusError(status, msg)
}

type namedValidation struct {
	name string
	fn   ValidationFunc
}

// Registry is a per-database set of named validations (kept in registration
// order) and named filters. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	validations []namedValidation
	filters     map[string]FilterFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]FilterFunc)}
}

// DefineValidation registers fn under name. Redefining a name keeps its
// position; a nil fn removes it.
func (r *Registry) DefineValidation(name string, fn ValidationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.validations, func(v namedValidation) bool { return v.name == name })
	switch {
	case fn == nil && i >= 0:
		r.validations = slices.Delete(r.validations, i, i+1)
	case fn == nil:
	case i >= 0:
		r.validations[i].fn = fn
	default:
		r.validations = append(r.validations, namedValidation{name: name, fn: fn})
	}
}

// Validation returns the validation registered under name.
func (r *Registry) Validation(name string) ValidationFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.validations {
		if v.name == name {
			return v.fn
		}
	}
	return nil
}

// ValidationNames returns registered names in evaluation order.
func (r *Registry) ValidationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.validations))
	for i, v := range r.validations {
		names[i] = v.name
	}
	return names
}

// HasValidations reports whether any validation is registered.
func (r *Registry) HasValidations() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validations) > 0
}

// DefineFilter registers fn under name; nil removes it.
func (r *Registry) DefineFilter(name string, fn FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.filters, name)
		return
	}
	r.filters[name] = fn
}

// Filter returns the filter registered under name.
func (r *Registry) Filter(name string) FilterFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filters[name]
}

// Validate runs every validation in order against newRev. The first
// rejection wins. The returned error is always a *models.StatusError.
func (r *Registry) Validate(newRev *models.Revision, load RevisionLoader) error {
	r.mu.RLock()
	validations := slices.Clone(r.validations)
	r.mu.RUnlock()
	if len(validations) == 0 {
		return nil
	}

	vc := NewValidationContext(load)
	for _, v := range validations {
		err := v.fn(newRev, vc)
		if err == nil {
			continue
		}
		var se *models.StatusError
		if errors.As(err, &se) {
			return se
		}
		return &models.StatusError{Status: models.StatusForbidden, Msg: err.Error(), Err: err}
	}
	return nil
}
