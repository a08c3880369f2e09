// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errNotListening = errors.New("not listening")
	errNotConnected = errors.New("no peer connected")
)

// newHealthHandler serves /live and /ready from the given checks and
// /metrics from reg.
func newHealthHandler(live, ready func() bool, reg *prometheus.Registry) http.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("listening", func() error {
		if !live() {
			return errNotListening
		}
		return nil
	})
	health.AddReadinessCheck("connected", func() error {
		if !ready() {
			return errNotConnected
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/live", health)
	mux.Handle("/ready", health)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// healthServer is a running health endpoint.
type healthServer struct {
	done     chan struct{}
	listener net.Listener
	server   *http.Server
	stop     func() bool
}

// serveHealth serves handler on addr until ctx is done or the returned
// server is closed.
func serveHealth(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) (*healthServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	hs := &healthServer{
		done:     make(chan struct{}),
		listener: ln,
		server:   &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
	}
	hs.stop = context.AfterFunc(ctx, hs.shutdown)
	go func() {
		defer close(hs.done)
		logger.Info("healthStart", slog.String("localAddr", ln.Addr().String()))
		err := hs.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		logger.Info("healthDone", slog.Any("err", err))
	}()
	return hs, nil
}

// Addr returns the address the health endpoint listens on.
func (hs *healthServer) Addr() net.Addr {
	return hs.listener.Addr()
}

// Close stops serving and waits for the serving goroutine to exit.
func (hs *healthServer) Close() {
	hs.stop()
	hs.shutdown()
	<-hs.done
}

func (hs *healthServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = hs.server.Shutdown(ctx)
}
