package txn

// Protocol is a concurrency control protocol over records whose metadata is
// C. One Protocol value is shared by all threads of an engine.
//
// Unless noted, a method that returns an error must leave nothing held for
// the access it was given, and a.Held must describe what is held whenever it
// returns.
type Protocol[C any] interface {
	Name() string
	// Begin starts a transaction, before its first access.
	Begin(t *Txn[C])
	// Acquire registers a read (a.Type Read) or an intent to write (Write,
	// Delete) of a.Record, and sets a.Image to the committed row the
	// transaction sees, nil if none.
	Acquire(t *Txn[C], a *Access[C]) error
	// Upgrade turns a successful read access into a write. a.Image must stay
	// valid. On error, what the read held is still held. It is never called
	// for an access that already holds the record exclusively.
	Upgrade(t *Txn[C], a *Access[C]) error
	// AcquireInsert claims a record that is not yet reachable by any other
	// transaction. It cannot fail.
	AcquireInsert(t *Txn[C], a *Access[C])
	// Validate checks the transaction can commit and sets t.CommitTS. On error
	// the transaction is released with committed set to false.
	Validate(t *Txn[C]) error
	// Apply installs the writes of a validated transaction.
	Apply(t *Txn[C])
	// Release drops everything the transaction holds, walking the access list
	// backwards.
	Release(t *Txn[C], committed bool)
}
