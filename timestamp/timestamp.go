// Package timestamp generates the timestamps that order transactions.
//
// A timestamp is a uint64 packing a global epoch in the high 32 bits and a
// thread-local counter in the low 32 bits. Ordering is lexicographic on the
// (epoch, local) pair, which is the same as integer ordering of the packed
// value.
package timestamp

import "fmt"

const localBits = 32

// ComposeTS packs an epoch and a local counter into a timestamp.
func ComposeTS(epoch, local uint32) uint64 {
	return uint64(epoch)<<localBits | uint64(local)
}

// ParseTS splits a timestamp into its epoch and local counter.
func ParseTS(ts uint64) (epoch uint32, local uint32) {
	return uint32(ts >> localBits), uint32(ts)
}

// FormatTS renders a timestamp as "epoch.local".
func FormatTS(ts uint64) string {
	epoch, local := ParseTS(ts)
	return fmt.Sprintf("%d.%d", epoch, local)
}

// Source hands out start timestamps. Values are unique across threads.
type Source interface {
	Allocate(threadID int) uint64
}
