// Package listener runs the accept loops that feed accepted connections
// into session.Session, the same accept-loop-with-backoff shape as the
// teacher's internal/server.Run.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/seedlink4go/seedlink4/internal/config"
	"github.com/seedlink4go/seedlink4/internal/pki"
	"github.com/seedlink4go/seedlink4/internal/session"
)

// maxAcceptBackoff caps the delay the accept loop sleeps after a run of
// consecutive Accept errors, so a persistently failing listener degrades
// gracefully instead of hot-looping.
const maxAcceptBackoff = 5 * time.Second

// Run starts a plaintext listener on cfg.Listen.Port and/or a TLS listener
// on cfg.Listen.SSLPort (whichever are nonzero), both sharing the same
// session.Deps and Hub, and blocks until ctx is canceled or a listener
// fails to start.
func Run(ctx context.Context, cfg *config.Config, deps *session.Deps, logger *slog.Logger) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Listen.Port > 0 {
		addr := fmt.Sprintf(":%d", cfg.Listen.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listener: plaintext listen on %s: %w", addr, err)
		}
		logger.Info("listening", "address", addr, "tls", false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- RunWithListener(ctx, ln, deps, logger)
		}()
	}

	if cfg.Listen.SSLPort > 0 {
		tlsCfg, err := pki.NewServerTLSConfig(cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			return fmt.Errorf("listener: configuring TLS: %w", err)
		}
		addr := fmt.Sprintf(":%d", cfg.Listen.SSLPort)
		ln, err := tls.Listen("tcp", addr, tlsCfg)
		if err != nil {
			return fmt.Errorf("listener: TLS listen on %s: %w", addr, err)
		}
		logger.Info("listening", "address", addr, "tls", true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- RunWithListener(ctx, ln, deps, logger)
		}()
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunWithListener drives a single already-open listener, accepting
// connections and handing each to its own session.Session goroutine. It
// returns nil when ctx is canceled and the listener closes cleanly.
func RunWithListener(ctx context.Context, ln net.Listener, deps *session.Deps, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > maxAcceptBackoff {
						delay = maxAcceptBackoff
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0

		sess := session.New(conn, deps)
		go func() {
			if err := sess.Run(ctx); err != nil {
				logger.Debug("session ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}
