// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command autorpc serves and calls remote functions from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/autorpc"
	"github.com/luxfi/autorpc/transport"
)

type globalFlags struct {
	config    string
	transport string
	listen    string
	advertise string
	profile   string
	verbose   bool
}

var (
	flags globalFlags
	log   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autorpc",
	Short: "Call Go functions on remote peers by name",
	Long: `autorpc runs an engine over tcp, grpc or json transports.

  autorpc serve --listen :9000
  autorpc call --peer 127.0.0.1:9000 Ping i32:42`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flags.verbose {
			log, err = zap.NewDevelopment()
		} else {
			log, err = zap.NewProduction()
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "TOML engine config file")
	pf.StringVar(&flags.transport, "transport", transport.DefaultKind, fmt.Sprintf("transport kind %v", transport.AvailableTransports()))
	pf.StringVar(&flags.listen, "listen", "127.0.0.1:0", "local listen address")
	pf.StringVar(&flags.advertise, "advertise", "", "address peers reach this node at; required for a wildcard --listen")
	pf.StringVar(&flags.profile, "profile", "", "placement profile override")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, callCmd)
}

func loadConfig() (autorpc.Config, error) {
	cfg := autorpc.DefaultConfig()
	if flags.config != "" {
		var err error
		if cfg, err = autorpc.LoadConfig(flags.config); err != nil {
			return autorpc.Config{}, err
		}
	}
	if flags.profile != "" {
		cfg.Profile = flags.profile
	}
	return cfg, cfg.Validate()
}

// newEngine listens on the configured transport and wraps it in an engine.
func newEngine(ctx context.Context, opts ...autorpc.Option) (*autorpc.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	topts := []transport.Option{transport.WithLogger(log)}
	if flags.advertise != "" {
		topts = append(topts, transport.WithAdvertiseAddr(flags.advertise))
	}
	t, err := transport.Listen(ctx, flags.transport, flags.listen, topts...)
	if err != nil {
		return nil, err
	}
	opts = append([]autorpc.Option{autorpc.WithLogger(log), autorpc.WithConfig(cfg)}, opts...)
	e, err := autorpc.New(t, opts...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return e, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
