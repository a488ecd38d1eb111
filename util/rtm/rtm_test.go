package rtm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// countingElider pretends every other Begin succeeds.
type countingElider struct {
	begins int
	ends   int
}

func (e *countingElider) Begin() bool {
	e.begins++
	return e.begins%2 == 0
}
func (e *countingElider) End()   { e.ends++ }
func (e *countingElider) Abort() {}

func TestFallback(t *testing.T) {
	l := NewLock(nil, 3)
	var (
		wg sync.WaitGroup
		n  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Do(func() { n++ })
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, n)
	elided, fallbacks := l.Stats()
	assert.Equal(t, uint64(0), elided)
	assert.Equal(t, uint64(8000), fallbacks)
}

func TestElided(t *testing.T) {
	e := &countingElider{}
	l := NewLock(e, 2)
	ran := false
	l.Do(func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 2, e.begins)
	assert.Equal(t, 1, e.ends)
	elided, fallbacks := l.Stats()
	assert.Equal(t, uint64(1), elided)
	assert.Equal(t, uint64(0), fallbacks)

	l = NewLock(e, 0)
	l.Do(func() {})
	_, fallbacks = l.Stats()
	assert.Equal(t, uint64(1), fallbacks)
}
