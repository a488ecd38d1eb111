package main

import (
	"context"
	"io"

	"github.com/pingcap/errors"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/engine"
	"github.com/vishalag001/Cavalia/txn"
	"github.com/vishalag001/Cavalia/txn/cc"
	"github.com/vishalag001/Cavalia/util/rtm"
)

// app runs the commands against the protocol chosen at runtime.
type app interface {
	bench(ctx context.Context, opts benchOptions) (*benchResult, error)
	shell(lines lineReader, out io.Writer) error
}

type protocolApp[C any, P txn.Protocol[C]] struct {
	cfg   *config.Config
	proto P
}

func newProtocolApp[C any, P txn.Protocol[C]](cfg *config.Config, proto P) app {
	return &protocolApp[C, P]{cfg: cfg, proto: proto}
}

func (a *protocolApp[C, P]) bench(ctx context.Context, opts benchOptions) (*benchResult, error) {
	return bench[C](ctx, a.cfg, a.proto, opts)
}

func (a *protocolApp[C, P]) shell(lines lineReader, out io.Writer) error {
	return runShell[C](a.cfg, a.proto, lines, out)
}

func newApp(cfg *config.Config) (app, error) {
	switch cfg.Protocol {
	case config.ProtocolLock:
		return newProtocolApp[cc.LockContent](cfg, cc.NewLock()), nil
	case config.ProtocolLockWait:
		return newProtocolApp[cc.LockContent](cfg, cc.NewLockWait(cfg.LockWaitTimeout.Duration)), nil
	case config.ProtocolOCC:
		return newProtocolApp[cc.LockContent](cfg, cc.NewOCC()), nil
	case config.ProtocolSilo:
		return newProtocolApp[cc.LockContent](cfg, cc.NewSilo()), nil
	case config.ProtocolTO:
		return newProtocolApp[cc.ToContent](cfg, cc.NewTO(engine.NewSource(cfg))), nil
	case config.ProtocolMVTO:
		return newProtocolApp[cc.MvContent](cfg, cc.NewMVTO(engine.NewSource(cfg), cfg.MaxVersions)), nil
	case config.ProtocolMVOCC:
		return newProtocolApp[cc.MvContent](cfg, cc.NewMVOCC(cfg.MaxVersions)), nil
	case config.ProtocolSI:
		return newProtocolApp[cc.MvContent](cfg, cc.NewSI(cfg.MaxVersions)), nil
	case config.ProtocolDBX:
		return newProtocolApp[cc.DbxContent](cfg, cc.NewDBX(rtm.NoElision, cfg.RTMRetries)), nil
	}
	return nil, errors.Errorf("unknown protocol %s", cfg.Protocol)
}
