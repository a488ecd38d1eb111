package timestamp

import (
	"math/rand"
	"sync"
	"testing"

	. "github.com/pingcap/check"
)

func TestT(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testClockSuite{})

type testClockSuite struct{}

func (s *testClockSuite) TestComposeParse(c *C) {
	ts := ComposeTS(5, 2)
	c.Assert(ts, Equals, uint64(5)<<32|2)
	epoch, local := ParseTS(ts)
	c.Assert(epoch, Equals, uint32(5))
	c.Assert(local, Equals, uint32(2))
	c.Assert(FormatTS(ts), Equals, "5.2")
	c.Assert(ComposeTS(5, 9) < ComposeTS(6, 0), IsTrue)
}

// Thread 1 of 4 commits in epoch 5 after reading a record written at (5,2).
func (s *testClockSuite) TestCommitAfterObservedWrite(c *C) {
	clock := NewClock(1, 4)
	ts := clock.GenerateTimestamp(5, ComposeTS(5, 2))
	epoch, local := ParseTS(ts)
	c.Assert(epoch, Equals, uint32(5))
	c.Assert(local, Equals, uint32(4*(2/4+1)+1))
	c.Assert(ts > ComposeTS(5, 2), IsTrue)
}

func (s *testClockSuite) TestNewEpochResetsLocal(c *C) {
	clock := NewClock(3, 4)
	ts := clock.GenerateTimestamp(2, ComposeTS(1, 100))
	c.Assert(ts, Equals, ComposeTS(2, 3))
	c.Assert(clock.GlobalTS(), Equals, uint64(2))

	ts = clock.GenerateTimestamp(7, 0)
	c.Assert(ts, Equals, ComposeTS(7, 3))
}

func (s *testClockSuite) TestNeverRepeats(c *C) {
	clock := NewClock(0, 2)
	seen := make(map[uint64]struct{})
	var last uint64
	for i := 0; i < 100; i++ {
		ts := clock.GenerateTimestamp(1, ComposeTS(1, 0))
		_, dup := seen[ts]
		c.Assert(dup, IsFalse)
		c.Assert(ts > last, IsTrue)
		seen[ts] = struct{}{}
		last = ts
	}
}

func (s *testClockSuite) TestLocalCounterPartition(c *C) {
	const threadCount = 5
	r := rand.New(rand.NewSource(42))
	for id := 0; id < threadCount; id++ {
		clock := NewClock(id, threadCount)
		epoch := uint64(1)
		maxWrite := uint64(0)
		for i := 0; i < 200; i++ {
			if r.Intn(10) == 0 {
				epoch++
			}
			if r.Intn(2) == 0 {
				maxWrite = ComposeTS(uint32(epoch), uint32(r.Intn(1000)))
			}
			ts := clock.CommitTimestamp(epoch, maxWrite)
			_, local := ParseTS(ts)
			c.Assert(int(local)%threadCount, Equals, id)
			c.Assert(ts > maxWrite, IsTrue)
		}
	}
}

// Threads feeding each other's timestamps back as observed writes never
// produce duplicates and always move past what they observed.
func (s *testClockSuite) TestConcurrentUnique(c *C) {
	const threadCount = 8
	const perThread = 2000
	epoch := NewEpoch()
	var shared Global
	results := make([][]uint64, threadCount)
	var wg sync.WaitGroup
	for id := 0; id < threadCount; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			clock := NewClock(id, threadCount)
			for i := 0; i < perThread; i++ {
				if id == 0 && i%500 == 0 {
					epoch.Advance()
				}
				observed := shared.Load()
				ts := clock.CommitTimestamp(epoch.Load(), observed)
				if ts <= observed {
					panic("commit ts not after observed write")
				}
				for {
					cur := shared.Load()
					if cur >= ts || shared.counter.CAS(cur, ts) {
						break
					}
				}
				results[id] = append(results[id], ts)
			}
		}(id)
	}
	wg.Wait()
	seen := make(map[uint64]int, threadCount*perThread)
	for id, list := range results {
		for i, ts := range list {
			if owner, ok := seen[ts]; ok {
				c.Fatalf("timestamp %s returned by threads %d and %d", FormatTS(ts), owner, id)
			}
			seen[ts] = id
			if i > 0 {
				c.Assert(ts > list[i-1], IsTrue)
			}
		}
	}
}

func (s *testClockSuite) TestEpochBehindPanics(c *C) {
	clock := NewClock(0, 1)
	clock.GenerateTimestamp(3, 0)
	c.Assert(func() { clock.GenerateTimestamp(2, 0) }, PanicMatches, ".*behind.*")
	c.Assert(func() { clock.GenerateTimestamp(3, ComposeTS(4, 0)) }, PanicMatches, ".*behind.*")
	c.Assert(func() { NewClock(2, 2) }, PanicMatches, "invalid thread id.*")
}
