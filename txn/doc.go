package txn

// The txn package implements Cavalia's transaction layer. A worker thread owns one Manager and runs its transactions
// through it one at a time: selects and inserts build up the transaction's access list, and CommitTransaction or
// AbortTransaction ends it. Managers of different threads run concurrently against the same tables.
//
// The Manager does not decide who may read or write what. That is the job of the concurrency control protocol the
// Manager is instantiated with (see Protocol, and the implementations in txn/cc). Each protocol keeps its own metadata
// inline in every TableRecord (the record's Content) and is called by the Manager at fixed points:
//
//  - on the first access of a transaction (Begin), to take a start timestamp or snapshot;
//  - on every select (Acquire) and read-to-write upgrade (Upgrade), to lock, timestamp or version the record;
//  - on every insert (AcquireInsert), before the new record becomes reachable by other threads;
//  - at commit (Validate, then Apply), to check the transaction can be serialized and to install its writes;
//  - at the end (Release), to drop whatever the transaction still holds, in reverse access order.
//
// Writes are never made in place. A select for write returns a private copy of the row which the application may
// modify freely; the copy is installed by Apply only after validation and logging succeeded. Aborting a transaction
// therefore never has to undo anything but the protocol's own bookkeeping.
//
// A failed acquisition or validation is reported as ErrConflict. It is always safe, and usually sensible, to abort and
// retry the transaction after one. A select that finds no visible row returns a nil record and a nil error; callers
// must tell the two apart.
//
// ## Commit order
//
// CommitTransaction validates, then hands the transaction's writes (or its command, see TxnParam) to the logger, then
// applies the writes and releases. Because the log record is written before anything becomes visible, a logger error is
// handled exactly like a failed validation.
//
// ## Timestamps
//
// Commit timestamps are packed (epoch, local) pairs produced by each thread's timestamp.Clock, or come from a shared
// generator for the protocols that order transactions by their start (TO and MVTO) or by a sequencer (SI). Either way,
// two transactions that commit writes to the same record never share a commit timestamp, and the later one always has
// the larger timestamp.
