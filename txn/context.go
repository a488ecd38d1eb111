package txn

// TxnContext describes a transaction to the engine. It does not change while
// the transaction runs.
type TxnContext struct {
	// TxnType is an application-defined procedure id.
	TxnType  int
	ReadOnly bool
}

// TxnParam is the replayable input of a transaction. Command logging persists
// it instead of the values the transaction wrote.
type TxnParam interface {
	Type() int
	Marshal() ([]byte, error)
}
