package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"polybot/internal/certs"
)

// errNoUsablePair wraps any failure to load the key pair from disk.
var errNoUsablePair = errors.New("no usable certificate pair")

// instance is one bound HTTPS listener.
type instance struct {
	srv  *http.Server
	ln   net.Listener
	done chan error
}

// Run serves webhook deliveries until ctx is cancelled or the listener fails.
// Each restart signal stops the current listener and binds a new one with the
// certificate pair currently on disk; the stop completes before the next bind,
// so at most one listener holds the port. Until the first bind succeeds, a
// missing or unusable pair makes Run wait for the next restart signal, since
// reconciliation is what writes a good one. Later bind failures and a listener
// that dies on its own are returned as errors.
func (s *Server) Run(ctx context.Context) error {
	first := true
	for {
		inst, err := s.bind()
		if err != nil {
			if first && errors.Is(err, errNoUsablePair) {
				if errors.Is(err, fs.ErrNotExist) {
					s.log.Warn(ctx, "no certificate on disk, waiting for reconciliation", "cert", s.cfg.CertPath)
				} else {
					s.log.Error(ctx, "certificate pair unusable, waiting for reconciliation", "cert", s.cfg.CertPath, "error", err.Error())
				}
				if err := s.restart.Wait(ctx); err != nil {
					return nil
				}
				continue
			}
			return fmt.Errorf("bind listener: %w", err)
		}
		first = false

		select {
		case err := <-inst.done:
			s.metrics.ListenerClosed()
			if err == nil {
				err = errors.New("closed unexpectedly")
			}
			return fmt.Errorf("listener stopped: %w", err)
		case <-s.restart.C():
			s.log.Info(ctx, "certificate changed, restarting listener")
			s.stop(inst)
		case <-ctx.Done():
			s.log.Info(ctx, "shutting down listener")
			s.stop(inst)
			return nil
		}
	}
}

func (s *Server) bind() (*instance, error) {
	pair, err := certs.Load(s.cfg.KeyPath, s.cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoUsablePair, err)
	}

	raw, err := s.listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return nil, err
	}
	ln := raw
	if s.cfg.EnforceAllowlist {
		ln = newAllowlistListener(ln, s.cfg.AllowedCIDRs)
	}
	ln = tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	})

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	inst := &instance{srv: srv, ln: ln, done: make(chan error, 1)}
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		inst.done <- err
	}()

	s.metrics.ListenerBound()
	s.log.Info(context.Background(), "listener bound", "addr", raw.Addr().String(), "allowlist", s.cfg.EnforceAllowlist)
	if s.onBound != nil {
		s.onBound(raw.Addr())
	}
	return inst, nil
}

// stop drains in-flight requests for a bounded time, then closes whatever is
// left, and returns only after Serve has exited.
func (s *Server) stop(inst *instance) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := inst.srv.Shutdown(ctx); err != nil {
		s.log.Warn(ctx, "graceful shutdown incomplete, closing", "error", err.Error())
		_ = inst.srv.Close()
	}
	if err := <-inst.done; err != nil {
		s.log.Warn(ctx, "listener exited with error", "error", err.Error())
	}
	s.metrics.ListenerClosed()
}
