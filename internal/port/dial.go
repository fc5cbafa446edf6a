package port

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"github.com/gorilla/websocket"
)

// DialOptions configures Dial.
type DialOptions struct {
	Timeout   time.Duration
	SecretKey *[32]byte   // TCP only; WebSocket servers are expected to use wss://
	TLSConfig *tls.Config // wss:// only; nil uses the system defaults
}

// IsWebSocketAddress reports whether address selects the WebSocket transport.
func IsWebSocketAddress(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}

// Dial connects to a server. ws:// and wss:// URLs use a WebSocketPort,
// anything else is a host:port for a SocketPort.
func Dial(ctx context.Context, address string, opts DialOptions) (Port, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if IsWebSocketAddress(address) {
		return dialWebSocket(ctx, address, opts)
	}

	debug.Info("Dialing TCP server %s (encrypted: %v)", address, opts.SecretKey != nil)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	var socketOpts []SocketOption
	if opts.SecretKey != nil {
		socketOpts = append(socketOpts, WithSecretKey(*opts.SecretKey))
	}
	return NewSocketPort(conn, socketOpts...), nil
}

func dialWebSocket(ctx context.Context, address string, opts DialOptions) (Port, error) {
	if opts.SecretKey != nil {
		debug.Warning("Secret key is ignored for WebSocket server %s", address)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
		Proxy:            websocket.DefaultDialer.Proxy,
		TLSClientConfig:  opts.TLSConfig,
	}

	debug.Info("Dialing WebSocket server %s", address)
	ws, resp, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			debug.Error("WebSocket handshake failed with status %d: %s", resp.StatusCode, string(body))
			return nil, fmt.Errorf("failed to connect to %s: status %d: %w", address, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewWebSocketPort(ws), nil
}
