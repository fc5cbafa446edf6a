package port

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns a connected client/server pair over loopback TCP.
func tcpPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-accepted:
		require.NotNil(t, server)
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSocketPort_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts []SocketOption
	}{
		{name: "plain"},
		{name: "secretbox", opts: []SocketOption{WithSecretKey([32]byte{1, 2, 3})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := tcpPair(t)
			client := NewSocketPort(clientConn, tt.opts...)
			server := NewSocketPort(serverConn, append(tt.opts, WithServerRole())...)

			require.NoError(t, client.SendJSON(map[string]any{"method": "client", "priority": 0.5}))
			require.NoError(t, client.Send([]byte{0x00, 0xff, 0x10}))
			require.NoError(t, client.Send(nil))

			obj, err := server.ReceiveJSON()
			require.NoError(t, err)
			method, err := Prop[string](obj, "method")
			require.NoError(t, err)
			assert.Equal(t, "client", method)

			data, err := server.Receive()
			require.NoError(t, err)
			assert.Equal(t, []byte{0x00, 0xff, 0x10}, data)

			data, err = server.Receive()
			require.NoError(t, err)
			assert.Empty(t, data)

			require.NoError(t, server.SendJSON(map[string]any{"servers": 3, "cores": 12.0}))
			reply, err := client.ReceiveJSON()
			require.NoError(t, err)
			servers, err := Prop[int](reply, "servers")
			require.NoError(t, err)
			assert.Equal(t, 3, servers)
		})
	}
}

func TestSocketPort_WireFormat(t *testing.T) {
	clientConn, serverConn := tcpPair(t)
	client := NewSocketPort(clientConn)

	require.NoError(t, client.Send([]byte("abc")))

	frame := make([]byte, 11)
	_, err := io.ReadFull(serverConn, frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(frame[:8]))
	assert.Equal(t, "abc", string(frame[8:]))
}

func TestSocketPort_CloseWriteSignalsEOF(t *testing.T) {
	clientConn, serverConn := tcpPair(t)
	client := NewSocketPort(clientConn)
	server := NewSocketPort(serverConn, WithServerRole())

	require.NoError(t, client.SendJSON(map[string]string{"type": "finish"}))
	require.NoError(t, client.CloseWrite())

	_, err := server.ReceiveJSON()
	require.NoError(t, err)

	_, err = server.ReceiveJSON()
	assert.True(t, errors.Is(err, ErrEOF), "got %v", err)

	// The client can still read after half-closing
	require.NoError(t, server.SendJSON(map[string]string{"type": "finish"}))
	obj, err := client.ReceiveJSON()
	require.NoError(t, err)
	assert.True(t, obj.Has("type"))
}

func TestSocketPort_TruncatedFrameIsEOF(t *testing.T) {
	clientConn, serverConn := tcpPair(t)
	client := NewSocketPort(clientConn)

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], 10)
	_, err := serverConn.Write(append(header[:], 'x', 'y'))
	require.NoError(t, err)
	require.NoError(t, serverConn.Close())

	_, err = client.Receive()
	assert.ErrorIs(t, err, ErrEOF)
}

func TestSocketPort_OversizedFrame(t *testing.T) {
	clientConn, serverConn := tcpPair(t)
	client := NewSocketPort(clientConn)

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], MaxFrameSize+1)
	_, err := serverConn.Write(header[:])
	require.NoError(t, err)

	_, err = client.Receive()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEOF)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestSocketPort_WrongKeyFailsAuthentication(t *testing.T) {
	clientConn, serverConn := tcpPair(t)
	client := NewSocketPort(clientConn, WithSecretKey([32]byte{1}))
	server := NewSocketPort(serverConn, WithSecretKey([32]byte{2}), WithServerRole())

	require.NoError(t, client.Send([]byte("secret")))
	_, err := server.Receive()
	assert.EqualError(t, err, "failed to authenticate message")
}

func TestSocketPort_CloseWriteUnsupported(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	p := NewSocketPort(a)
	assert.ErrorIs(t, p.CloseWrite(), ErrHalfCloseUnsupported)
}
