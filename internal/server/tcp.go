// Package server runs the TCP accept loops for the user and internal ports.
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Start listens on the exact port and serves every accepted connection on
// its own goroutine until the context is cancelled. The port is part of the
// node's cluster identity, so a port already in use is an error rather than
// something to probe past.
func Start(ctx context.Context, port int, handler func(conn net.Conn), log *zap.Logger) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", port)
	}

	// When ctx is cancelled, close the listener to unblock Accept.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("listening", zap.Int("port", port))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // graceful shutdown
			default:
				log.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		go handler(conn)
	}
}
