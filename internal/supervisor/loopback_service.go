// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package supervisor

import (
	"context"
	"net"
	"net/http"
	"time"
)

// loopbackService adapts an already-bound net.Listener and *http.Server
// pair into a suture.Service, so the loopback server's lifecycle is
// supervised by Tree's loopback-layer suture.Supervisor alongside any
// future loopback-layer services, rather than a bare goroutine.
//
// It wraps the listener rather than letting http.Server pick one, because
// Supervisor reports the loopback address via a pre-bound ephemeral-port
// listener (spec §4.1 "EntryPort 0 = auto-discover" applies equally to the
// loopback server) before the service is ever started.
type loopbackService struct {
	ln     net.Listener
	srv    *http.Server
	closed chan struct{}
}

// newLoopbackService builds a loopbackService. srv.Serve(ln) is the
// blocking call suture's Serve loop invokes.
func newLoopbackService(ln net.Listener, srv *http.Server) *loopbackService {
	return &loopbackService{ln: ln, srv: srv, closed: make(chan struct{})}
}

// Serve implements suture.Service. It returns nil on a clean shutdown
// (triggered by ctx cancellation) and the underlying error otherwise, so
// suture's failure-budget machinery only counts genuine crashes.
func (l *loopbackService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.srv.Serve(l.ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for suture/sutureslog's event logging.
func (l *loopbackService) String() string {
	return "loopback-http:" + l.ln.Addr().String()
}
