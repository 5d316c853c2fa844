package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortRev(t *testing.T) {
	assert.Equal(t, "3-0123abcd", shortRev("3-0123abcdef456789"))
	assert.Equal(t, "1-local", shortRev("1-local"))
	assert.Equal(t, "garbage", shortRev("garbage"))
}

func TestLocalDocID(t *testing.T) {
	assert.Equal(t, "_local/cp", localDocID("cp"))
	assert.Equal(t, "_local/cp", localDocID("_local/cp"))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"dbs", "create", "drop", "info", "put", "get", "delete", "changes", "all-docs", "attach", "cat", "revs", "compact", "local", "completion"} {
		assert.Contains(t, names, want)
	}
}
