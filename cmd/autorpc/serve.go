// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/autorpc"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in functions until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())

		e, err := newEngine(ctx, autorpc.WithMetrics(reg), autorpc.WithRemoteErrorHandler(logRemoteError))
		if err != nil {
			return err
		}
		defer e.Transport().Close()
		if err := registerBuiltins(e); err != nil {
			return err
		}

		if metricsAddr != "" {
			srv := serveMetrics(reg)
			defer shutdown(srv)
		}
		log.Info("serving",
			zap.String("addr", e.Transport().LocalAddr()),
			zap.String("transport", flags.transport),
			zap.String("profile", e.Profile().Name),
		)
		go func() {
			<-ctx.Done()
			_ = e.Transport().Close()
		}()
		return e.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address for the Prometheus /metrics endpoint")
}

// registerBuiltins installs the functions the serve command answers.
func registerBuiltins(e *autorpc.Engine) error {
	builtins := []struct {
		name string
		fn   any
	}{
		{"Ping", func(n int32, call *autorpc.Call) {
			log.Info("ping", zap.Int32("n", n), zap.String("from", call.Sender))
		}},
		{"Echo", func(s string, call *autorpc.Call) {
			log.Info("echo", zap.String("text", s), zap.String("from", call.Sender))
		}},
		{"Add", func(a, b int64, call *autorpc.Call) {
			log.Info("add", zap.Int64("sum", a+b), zap.String("from", call.Sender))
		}},
		{"Scale", func(v float64, by float32, call *autorpc.Call) {
			log.Info("scale", zap.Float64("result", v*float64(by)), zap.String("from", call.Sender))
		}},
	}
	for _, b := range builtins {
		if err := e.RegisterFunction(b.name, b.fn); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
