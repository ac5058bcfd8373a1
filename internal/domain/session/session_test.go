package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Valid(t *testing.T) {
	assert.True(t, State{}.Valid())
	assert.True(t, State{TokenPresent: true}.Valid())
	assert.True(t, State{TokenPresent: true, Authenticated: true}.Valid())
	assert.False(t, State{Authenticated: true}.Valid())
}

func TestChange_AuthFlipped(t *testing.T) {
	assert.True(t, Change{Previous: State{}, Current: State{TokenPresent: true, Authenticated: true}}.AuthFlipped())
	assert.False(t, Change{Previous: State{}, Current: State{TokenPresent: true}}.AuthFlipped())
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(""))
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 16)
}
