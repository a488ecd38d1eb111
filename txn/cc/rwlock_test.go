package cc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRWLock(t *testing.T) {
	var l RWLock
	assert.True(t, l.TryRLock())
	assert.True(t, l.TryRLock())
	assert.Equal(t, 2, l.Readers())
	assert.False(t, l.TryLock())
	assert.False(t, l.TryUpgrade())
	l.RUnlock()
	assert.True(t, l.TryUpgrade())
	assert.True(t, l.IsLocked())
	assert.False(t, l.TryRLock())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.False(t, l.IsLocked())
	assert.True(t, l.TryLock())
	l.Unlock()
	assert.Equal(t, 0, l.Readers())
}
