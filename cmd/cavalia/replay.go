package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/vishalag001/Cavalia/logger"
	"github.com/vishalag001/Cavalia/storage"
)

type replayResult struct {
	Records   uint64
	Values    uint64
	Commands  map[int]uint64
	Live      int // rows alive after installing every value record
	Transfers uint64
	Moved     uint64
	LastTS    uint64
	Threads   map[int]uint64
}

type rowKey struct {
	table storage.TableID
	key   string
}

// replay scans the durability log in commit order, installing values and
// decoding transfer commands.
func replay(dir string) (*replayResult, error) {
	r, err := logger.OpenReader(dir)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	res := &replayResult{Commands: make(map[int]uint64)}
	live := make(map[rowKey]struct{})
	err = r.ForEach(func(rec *logger.Record) error {
		if rec.CommitTS < res.LastTS {
			return errors.Errorf("record %d out of commit order", rec.CommitTS)
		}
		res.LastTS = rec.CommitTS
		res.Records++
		switch rec.Kind {
		case logger.KindValue:
			for _, v := range rec.Values {
				res.Values++
				k := rowKey{table: v.TableID, key: v.Key}
				if v.Deleted {
					delete(live, k)
				} else {
					live[k] = struct{}{}
				}
			}
		case logger.KindCommand:
			res.Commands[rec.CommandType]++
			if rec.CommandType == transferTxn {
				p, err := unmarshalTransfer(rec.Command)
				if err != nil {
					return errors.Annotatef(err, "decode transfer at %d", rec.CommitTS)
				}
				res.Transfers++
				res.Moved += p.Amount
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Live = len(live)
	if res.Threads, err = r.ThreadCounts(); err != nil {
		return nil, err
	}
	return res, nil
}

func newReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Scan the durability log and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			res, err := replay(cfg.Logging.Dir)
			if err != nil {
				return err
			}
			return printReplay(cmd.OutOrStdout(), res)
		},
	}
}

func printReplay(w io.Writer, res *replayResult) error {
	fmt.Fprintf(w, "%d records, last commit %d\n", res.Records, res.LastTS)
	fmt.Fprintf(w, "  %d values, %d live rows\n", res.Values, res.Live)
	fmt.Fprintf(w, "  %d transfers moving %d\n", res.Transfers, res.Moved)
	threads := make([]int, 0, len(res.Threads))
	for tid := range res.Threads {
		threads = append(threads, tid)
	}
	sort.Ints(threads)
	for _, tid := range threads {
		fmt.Fprintf(w, "  thread %d: %d records\n", tid, res.Threads[tid])
	}
	return nil
}
