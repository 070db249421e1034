// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/autorpc"
	"github.com/luxfi/autorpc/transport"
	"github.com/luxfi/autorpc/wire"
)

var callFlags struct {
	peer      string
	wait      time.Duration
	object    uint64
	timestamp bool
}

var callCmd = &cobra.Command{
	Use:   "call NAME [TYPE:VALUE ...]",
	Short: "Call a function on one peer",
	Long: `Call a function on one peer and report what comes back.

Arguments are typed with a prefix: i8 i16 i32 i64 u8 u16 u32 u64 f32 f64
bool str. An argument without a prefix is a string.

  autorpc call --peer 127.0.0.1:9000 Add i64:2 i64:40`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callArgs, err := parseArgs(args[1:])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		e, err := newEngine(ctx, autorpc.WithRemoteErrorHandler(logRemoteError))
		if err != nil {
			return err
		}
		defer e.Transport().Close()

		d, ok := e.Transport().(transport.Dialer)
		if !ok {
			return fmt.Errorf("transport %s cannot dial", flags.transport)
		}
		if err := d.Connect(ctx, callFlags.peer); err != nil {
			return err
		}

		opts := e.OutgoingOptions().To(callFlags.peer)
		opts.Timestamp = callFlags.timestamp
		if cmd.Flags().Changed("object") {
			opts = opts.On(callFlags.object)
		}
		if err := e.CallWith(ctx, opts, args[0], callArgs...); err != nil {
			return err
		}
		log.Info("call sent", zap.String("name", args[0]), zap.String("peer", callFlags.peer))
		return drain(ctx, e, callFlags.wait)
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&callFlags.peer, "peer", "", "peer address")
	f.DurationVar(&callFlags.wait, "wait", 500*time.Millisecond, "how long to wait for replies")
	f.Uint64Var(&callFlags.object, "object", 0, "call an instance method on this object id")
	f.BoolVar(&callFlags.timestamp, "timestamp", false, "attach the send time")
	_ = callCmd.MarkFlagRequired("peer")
}

// drain handles replies until wait elapses.
func drain(ctx context.Context, e *autorpc.Engine, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		err := e.Poll(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
			return nil
		default:
			log.Warn("reply rejected", zap.Error(err))
		}
	}
}

func logRemoteError(peer string, code wire.ErrorCode) {
	log.Warn("remote error", zap.String("peer", peer), zap.Stringer("code", code))
}
