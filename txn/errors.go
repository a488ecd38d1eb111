package txn

import (
	"github.com/pingcap/errors"
)

var (
	// ErrConflict means the transaction lost a race with another one and must
	// abort. It is a shared value, so returning it allocates nothing.
	ErrConflict = errors.New("txn: conflict")
	// ErrKeyExists is returned by an insert of a key that is already visible.
	ErrKeyExists = errors.New("txn: key already exists")
)

// IsRetryable reports whether err is a concurrency conflict, after which the
// same transaction may succeed if retried.
func IsRetryable(err error) bool {
	return errors.Cause(err) == ErrConflict
}
