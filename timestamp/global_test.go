package timestamp

import (
	"sync"
	"time"

	. "github.com/pingcap/check"
)

var _ = Suite(&testGeneratorSuite{})

type testGeneratorSuite struct{}

func collect(threads, perThread int, alloc func(id int) uint64) map[uint64]struct{} {
	var mu sync.Mutex
	all := make(map[uint64]struct{}, threads*perThread)
	var wg sync.WaitGroup
	for id := 0; id < threads; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			local := make([]uint64, 0, perThread)
			for i := 0; i < perThread; i++ {
				local = append(local, alloc(id))
			}
			mu.Lock()
			for _, ts := range local {
				all[ts] = struct{}{}
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return all
}

func (s *testGeneratorSuite) TestGlobalUnique(c *C) {
	g := NewGlobal()
	all := collect(4, 1000, g.Allocate)
	c.Assert(all, HasLen, 4000)
	c.Assert(g.Load(), Equals, uint64(4000))
	_, zero := all[0]
	c.Assert(zero, IsFalse)
}

func (s *testGeneratorSuite) TestBatchUnique(c *C) {
	g := NewGlobal()
	b := NewBatch(g, 4, 16)
	all := collect(4, 1000, b.Allocate)
	c.Assert(all, HasLen, 4000)
	_, zero := all[0]
	c.Assert(zero, IsFalse)

	first := b.Allocate(0)
	c.Assert(b.Allocate(0), Equals, first+1)
}

func (s *testGeneratorSuite) TestSequencerPublishesInOrder(c *C) {
	seq := NewSequencer()
	t1 := seq.Allocate()
	t2 := seq.Allocate()
	c.Assert(t2, Equals, t1+1)

	done := make(chan struct{})
	go func() {
		seq.Publish(t2)
		close(done)
	}()
	select {
	case <-done:
		c.Fatal("published out of order")
	case <-time.After(20 * time.Millisecond):
	}
	c.Assert(seq.Snapshot(), Equals, uint64(0))
	seq.Publish(t1)
	<-done
	c.Assert(seq.Snapshot(), Equals, t2)
}

func (s *testGeneratorSuite) TestEpochAdvancer(c *C) {
	e := NewEpoch()
	c.Assert(e.Load(), Equals, uint64(1))
	e.Start(time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for e.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.Stop()
	c.Assert(e.Load() >= 3, IsTrue)
	stopped := e.Load()
	time.Sleep(5 * time.Millisecond)
	c.Assert(e.Load(), Equals, stopped)
	e.Stop()
}
