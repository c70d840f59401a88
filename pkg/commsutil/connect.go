// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60
)

// ConnectParams holds parameters for Connect. Zero values use defaults.
type ConnectParams struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// Connect creates a COMMS connection.
func Connect(params ConnectParams) (*comms.Conn, error) {
	if params.ConnectTimeout <= 0 {
		params.ConnectTimeout = defaultConnectTimeout
	}
	if params.ReconnectWait <= 0 {
		params.ReconnectWait = defaultReconnectWait
	}
	if params.MaxReconnects == 0 {
		params.MaxReconnects = defaultMaxReconnects
	}

	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, params.URL, params.Name))

	nc, err := comms.Connect(params.URL,
		comms.Name(params.Name),
		comms.Timeout(params.ConnectTimeout),
		comms.ReconnectWait(params.ReconnectWait),
		comms.MaxReconnects(params.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error(fmt.Sprintf("%s - COMMS async error on %q: %v", logPrefix, subject, err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// Drain drains nc, closing it once in-flight messages have been handled or
// timeout elapses.
func Drain(nc *comms.Conn, timeout time.Duration) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - drain failed, closing: %v", logPrefix, err))
		nc.Close()
		return
	}
	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !nc.IsClosed() {
		nc.Close()
	}
}
