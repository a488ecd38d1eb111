package cavalia

/*
Cavalia is an in-memory transaction engine for experimenting with concurrency control. Every worker thread owns a
transaction manager; the managers share tables, a global epoch, a durability logger and one concurrency control
protocol, chosen when the engine is created. Swapping the protocol changes nothing else, so the protocols can be
compared on the same workload.

The supported protocols are two-phase locking without and with bounded waiting, OCC and Silo, timestamp ordering,
multi-version timestamp ordering, multi-version OCC, snapshot isolation, and DBX, which runs each record access as a
short critical section that hardware transactional memory could elide.

The `cavalia` module is organized into the following packages:

* `config`: process configuration, loaded from toml or yaml.
* `timestamp`: packed (epoch, local) timestamps, the per-thread clock that generates commit timestamps, global and
  batched counters, and the epoch advancer.
* `storage`: schemas, rows and tables. Records never move once allocated; their protocol metadata lives inline.
* `txn`: the transaction manager, access lists and the interface every protocol implements.
* `txn/cc`: the protocols.
* `logger`: value and command logging on badger, and a reader for the persisted log.
* `engine`: ties the above together.
* `cmd/cavalia`: a command line tool to benchmark protocols, inspect logs and run transactions by hand.
*/
