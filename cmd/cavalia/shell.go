package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/engine"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/txn"
)

const (
	colKey = iota
	colTag
	colValue
)

const shellHelp = `begin                  start an explicit transaction
commit                 commit it
abort                  roll it back
get <key>              read a row
put <key> <value> [tag] update a row, inserting it if missing
insert <key> <value> [tag]
del <key>              delete a row
find <tag>             read every row with tag
exit
Without begin every command runs in its own transaction.`

var errExit = errors.New("exit")

// lineReader is satisfied by *readline.Instance.
type lineReader interface {
	Readline() (string, error)
}

func kvSchema() *storage.Schema {
	return storage.NewSchema("kv", []storage.Column{
		{Name: "key", Size: 32},
		{Name: "tag", Size: 16},
		{Name: "value", Size: 64},
	}, []int{colTag})
}

func padded(s string, size int) string {
	b := make([]byte, size)
	copy(b, s)
	return string(b)
}

func trimmed(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// session runs shell commands on the manager of thread 0.
type session[C any, P txn.Protocol[C]] struct {
	m        *txn.Manager[C, P]
	schema   *storage.Schema
	ctx      *txn.TxnContext
	explicit bool
	out      io.Writer
}

func runShell[C any, P txn.Protocol[C]](cfg *config.Config, proto P, lines lineReader, out io.Writer) error {
	e, err := engine.New[C](cfg, proto)
	if err != nil {
		return err
	}
	s := &session[C, P]{
		schema: kvSchema(),
		ctx:    &txn.TxnContext{},
		out:    out,
	}
	e.CreateTable(s.schema)
	s.m = e.NewManager(0)
	err = s.loop(lines)
	if s.explicit {
		s.m.AbortTransaction()
	}
	if cerr := s.m.CleanUp(); err == nil {
		err = cerr
	}
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *session[C, P]) loop(lines lineReader) error {
	for {
		line, err := lines.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := s.execLine(line); err == errExit {
			return nil
		} else if err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
}

func (s *session[C, P]) execLine(line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Annotate(err, "parse")
	}
	if len(args) == 0 {
		return nil
	}
	return s.exec(args[0], args[1:])
}

func (s *session[C, P]) exec(cmd string, args []string) error {
	switch cmd {
	case "exit", "quit":
		return errExit
	case "help":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "begin":
		if s.explicit {
			return errors.New("already in a transaction")
		}
		s.explicit = true
		return nil
	case "commit":
		if !s.explicit {
			return errors.New("not in a transaction")
		}
		s.explicit = false
		ts, err := s.m.CommitTransaction(s.ctx, nil)
		if err != nil {
			return errors.Annotate(err, "commit")
		}
		fmt.Fprintf(s.out, "committed at %d\n", ts)
		return nil
	case "abort":
		if !s.explicit {
			return errors.New("not in a transaction")
		}
		s.explicit = false
		s.m.AbortTransaction()
		fmt.Fprintln(s.out, "aborted")
		return nil
	}
	op, ok := s.ops()[cmd]
	if !ok {
		return errors.Errorf("unknown command %q, try help", cmd)
	}
	if len(args) < op.min || len(args) > op.max {
		return errors.Errorf("usage: %s", op.usage)
	}
	err := op.run(s, args)
	if err != nil {
		// A failed operation leaves the transaction unusable.
		s.m.AbortTransaction()
		if s.explicit {
			s.explicit = false
			return errors.Annotate(err, "transaction aborted")
		}
		return err
	}
	if s.explicit {
		return nil
	}
	_, err = s.m.CommitTransaction(s.ctx, nil)
	return errors.Annotate(err, "commit")
}

type shellOp[C any, P txn.Protocol[C]] struct {
	usage    string
	min, max int
	run      func(s *session[C, P], args []string) error
}

func (s *session[C, P]) ops() map[string]shellOp[C, P] {
	return map[string]shellOp[C, P]{
		"get":    {usage: "get <key>", min: 1, max: 1, run: (*session[C, P]).get},
		"put":    {usage: "put <key> <value> [tag]", min: 2, max: 3, run: (*session[C, P]).put},
		"insert": {usage: "insert <key> <value> [tag]", min: 2, max: 3, run: (*session[C, P]).insert},
		"del":    {usage: "del <key>", min: 1, max: 1, run: (*session[C, P]).del},
		"find":   {usage: "find <tag>", min: 1, max: 1, run: (*session[C, P]).find},
	}
}

func (s *session[C, P]) print(row *storage.SchemaRecord) {
	fmt.Fprintf(s.out, "%s = %q", trimmed(row.Column(colKey)), trimmed(row.Column(colValue)))
	if tag := trimmed(row.Column(colTag)); tag != "" {
		fmt.Fprintf(s.out, " [%s]", tag)
	}
	fmt.Fprintln(s.out)
}

func (s *session[C, P]) get(args []string) error {
	row, err := s.m.SelectKeyRecord(s.ctx, s.schema.ID, args[0], txn.Read)
	if err != nil {
		return err
	}
	if row == nil {
		fmt.Fprintln(s.out, "(not found)")
		return nil
	}
	s.print(row)
	return nil
}

func (s *session[C, P]) fill(row *storage.SchemaRecord, args []string) {
	row.SetColumn(colKey, []byte(args[0]))
	row.SetColumn(colValue, []byte(args[1]))
	var tag []byte
	if len(args) == 3 {
		tag = []byte(args[2])
	}
	// A put replaces the whole row, so a missing tag clears the old one.
	row.SetColumn(colTag, tag)
}

func (s *session[C, P]) put(args []string) error {
	row, err := s.m.SelectKeyRecord(s.ctx, s.schema.ID, args[0], txn.Write)
	if err != nil {
		return err
	}
	if row == nil {
		return s.insert(args)
	}
	s.fill(row, args)
	fmt.Fprintln(s.out, "updated")
	return nil
}

func (s *session[C, P]) insert(args []string) error {
	row := s.schema.NewRecord(args[0])
	s.fill(row, args)
	if err := s.m.InsertRecord(s.ctx, s.schema.ID, row); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "inserted")
	return nil
}

func (s *session[C, P]) del(args []string) error {
	row, err := s.m.SelectKeyRecord(s.ctx, s.schema.ID, args[0], txn.Delete)
	if err != nil {
		return err
	}
	if row == nil {
		fmt.Fprintln(s.out, "(not found)")
		return nil
	}
	fmt.Fprintln(s.out, "deleted")
	return nil
}

func (s *session[C, P]) find(args []string) error {
	var rows storage.SchemaRecords
	if err := s.m.SelectRecords(s.ctx, s.schema.ID, 0, padded(args[0], s.schema.Columns[colTag].Size), txn.Read, &rows); err != nil {
		return err
	}
	for _, row := range rows.Records {
		s.print(row)
	}
	fmt.Fprintf(s.out, "%d rows\n", rows.Len())
	return nil
}

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run transactions interactively against an empty key/value table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			l, err := readline.NewEx(&readline.Config{
				Prompt:            cfg.Protocol + "> ",
				InterruptPrompt:   "^C",
				EOFPrompt:         "^D",
				HistorySearchFold: true,
			})
			if err != nil {
				return errors.Trace(err)
			}
			defer l.Close()
			return a.shell(l, cmd.OutOrStdout())
		},
	}
}
