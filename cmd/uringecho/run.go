/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cloudwego/ureactor/echo"
	"github.com/cloudwego/ureactor/netx"
	"github.com/cloudwego/ureactor/reactor"
)

func newEchoCommand() *cobra.Command {
	opts := newOptions()
	cmd := &cobra.Command{
		Use:           "uringecho [OPTIONS]",
		Short:         "TCP echo server driven by io_uring completions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd.Context(), opts)
		},
	}
	opts.installFlags(cmd.Flags())
	return cmd
}

func setupLogging(opts *options) error {
	if err := log.SetLevel(opts.logLevel); err != nil {
		return errors.Wrap(err, "log level")
	}
	switch opts.logFormat {
	case "text":
		return log.SetFormat(log.TextFormat)
	case "json":
		return log.SetFormat(log.JSONFormat)
	}
	return errors.Errorf("unknown log format %q", opts.logFormat)
}

func serveMetrics(ctx context.Context, addr string) func() {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.G(ctx).WithError(err).Error("metrics server stopped")
		}
	}()
	log.G(ctx).WithField("addr", addr).Info("serving metrics")
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func runEcho(ctx context.Context, opts *options) error {
	if err := setupLogging(opts); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		shutdown := serveMetrics(ctx, opts.metricsAddr)
		defer shutdown()
	}

	ln, err := netx.Listen(opts.addr, opts.backlog)
	if err != nil {
		return err
	}
	defer ln.Close()

	ring, err := reactor.NewRing(opts.ring)
	if err != nil {
		return err
	}

	srv := echo.NewServer(ln.RawFd(), opts.echo)
	loop := reactor.NewLoop(ring, srv)
	if err = srv.Start(ctx, loop); err != nil {
		ring.Close()
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"addr":    ln.Addr().String(),
		"entries": opts.ring.Entries,
	}).Info("listening")

	runErr := loop.Run(ctx)
	if err = ring.Close(); err != nil {
		log.G(ctx).WithError(err).Warn("close ring")
	}
	if err = srv.Close(); err != nil {
		log.G(ctx).WithError(err).Warn("close connections")
	}
	if runErr != nil {
		return runErr
	}
	log.G(ctx).Info("shut down")
	return nil
}
