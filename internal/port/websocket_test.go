package port

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer runs handler against each upgraded connection and returns a ws:// URL.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, url string) Port {
	t.Helper()
	p, err := Dial(context.Background(), url, DialOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestWebSocketPort_RoundTrip(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		// Echo the JSON message, then the binary payload, then close normally
		mt, data, err := ws.ReadMessage()
		if err != nil || mt != websocket.TextMessage {
			return
		}
		ws.WriteMessage(websocket.TextMessage, data)

		mt, data, err = ws.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		ws.WriteMessage(websocket.BinaryMessage, data)
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	p := dialTest(t, url)
	_, isWS := p.(*WebSocketPort)
	assert.True(t, isWS)

	require.NoError(t, p.SendJSON(map[string]any{"type": "work", "permuter": 1, "seed": 9}))
	require.NoError(t, p.Send([]byte{1, 2, 3}))

	obj, err := p.ReceiveJSON()
	require.NoError(t, err)
	seed, err := Prop[int64](obj, "seed")
	require.NoError(t, err)
	assert.Equal(t, int64(9), seed)

	data, err := p.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = p.ReceiveJSON()
	assert.ErrorIs(t, err, ErrEOF)
}

func TestWebSocketPort_FrameKindMismatch(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.BinaryMessage, []byte(`{"type": "finish"}`))
		ws.ReadMessage()
	})

	p := dialTest(t, url)
	_, err := p.ReceiveJSON()
	assert.EqualError(t, err, "expected text frame, got binary")
}

func TestWebSocketPort_CloseWriteKeepsReading(t *testing.T) {
	// The server keeps gorilla's default close handler
	readAfterFinish := make(chan error, 1)
	url := wsServer(t, func(ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type": "need_work"}`))
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}

		// Nothing else must arrive until the client closes
		ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _, err := ws.ReadMessage()
		readAfterFinish <- err

		ws.WriteMessage(websocket.TextMessage, []byte(`{"type": "result", "permuter": 0}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type": "finish"}`))
	})

	p := dialTest(t, url)
	require.NoError(t, p.SendJSON(map[string]any{"type": "work", "permuter": 0, "seed": 1}))
	_, err := p.ReceiveJSON()
	require.NoError(t, err)

	require.NoError(t, p.SendJSON(map[string]string{"type": "finish"}))
	require.NoError(t, p.CloseWrite())
	require.NoError(t, p.CloseWrite())
	assert.Error(t, p.SendJSON(map[string]string{"type": "work"}))

	for _, want := range []string{"result", "finish"} {
		obj, err := p.ReceiveJSON()
		require.NoError(t, err)
		typ, err := Prop[string](obj, "type")
		require.NoError(t, err)
		assert.Equal(t, want, typ)
	}

	var netErr net.Error
	require.ErrorAs(t, <-readAfterFinish, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestWebSocketPort_CloseSendsCloseFrame(t *testing.T) {
	serverErr := make(chan error, 1)
	url := wsServer(t, func(ws *websocket.Conn) {
		_, _, err := ws.ReadMessage()
		serverErr <- err
	})

	p, err := Dial(context.Background(), url, DialOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, p.CloseWrite())
	require.NoError(t, p.Close())

	select {
	case err := <-serverErr:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not see the close")
	}
}

func TestIsWebSocketAddress(t *testing.T) {
	assert.True(t, IsWebSocketAddress("ws://farm.example:8080/client"))
	assert.True(t, IsWebSocketAddress("wss://farm.example/client"))
	assert.False(t, IsWebSocketAddress("farm.example:12321"))
}

func TestDial_TCPRefused(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", DialOptions{Timeout: time.Second})
	assert.ErrorContains(t, err, "failed to connect to 127.0.0.1:1")
}
