package port

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrHalfCloseUnsupported is returned by CloseWrite when the underlying
// connection cannot shut down only its write side.
var ErrHalfCloseUnsupported = errors.New("connection does not support half-close")

const (
	frameHeaderSize = 8
	nonceSize       = 24
)

type socketOptions struct {
	key    *[32]byte
	server bool
}

// SocketOption configures a SocketPort.
type SocketOption func(*socketOptions)

// WithSecretKey seals every frame with NaCl secretbox under key.
func WithSecretKey(key [32]byte) SocketOption {
	return func(o *socketOptions) {
		k := key
		o.key = &k
	}
}

// WithServerRole swaps the nonce parity so the port can talk to a client.
func WithServerRole() SocketOption {
	return func(o *socketOptions) {
		o.server = true
	}
}

// SocketPort frames messages over a stream connection: an 8-byte big-endian
// length followed by the payload.
//
// With a secret key, the payload is a secretbox. The client seals with even
// nonce counters and opens with odd ones; the server does the opposite. Both
// counters advance by 2 per message.
type SocketPort struct {
	conn net.Conn
	key  *[32]byte

	sendNonce uint64
	recvNonce uint64
}

// NewSocketPort wraps conn. The port takes ownership of conn.
func NewSocketPort(conn net.Conn, opts ...SocketOption) *SocketPort {
	var o socketOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := &SocketPort{conn: conn, key: o.key}
	if o.server {
		p.sendNonce, p.recvNonce = 1, 0
	} else {
		p.sendNonce, p.recvNonce = 0, 1
	}
	return p
}

func nonceFor(counter uint64) *[nonceSize]byte {
	var nonce [nonceSize]byte
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], counter)
	return &nonce
}

// Send writes one binary message.
func (p *SocketPort) Send(data []byte) error {
	payload := data
	if p.key != nil {
		payload = secretbox.Seal(nil, data, nonceFor(p.sendNonce), p.key)
		p.sendNonce += 2
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint64(frame, uint64(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if _, err := p.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendJSON writes v as one JSON message.
func (p *SocketPort) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return p.Send(data)
}

// Receive reads one binary message.
func (p *SocketPort) Receive() ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(p.conn, header[:]); err != nil {
		return nil, readError(err)
	}

	size := binary.BigEndian.Uint64(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, readError(err)
	}

	if p.key == nil {
		return payload, nil
	}
	data, ok := secretbox.Open(nil, payload, nonceFor(p.recvNonce), p.key)
	if !ok {
		return nil, errors.New("failed to authenticate message")
	}
	p.recvNonce += 2
	return data, nil
}

// ReceiveJSON reads one JSON object message.
func (p *SocketPort) ReceiveJSON() (Object, error) {
	data, err := p.Receive()
	if err != nil {
		return nil, err
	}
	return DecodeObject(data)
}

// CloseWrite shuts down the write side of the connection.
func (p *SocketPort) CloseWrite() error {
	hc, ok := p.conn.(interface{ CloseWrite() error })
	if !ok {
		return ErrHalfCloseUnsupported
	}
	if err := hc.CloseWrite(); err != nil {
		return fmt.Errorf("failed to half-close connection: %w", err)
	}
	return nil
}

// Close closes the connection.
func (p *SocketPort) Close() error {
	return p.conn.Close()
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("failed to receive message: %w", ErrEOF)
	}
	return fmt.Errorf("failed to receive message: %w", err)
}
