package port

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// WebSocketPort carries JSON messages as text frames and raw payloads as
// binary frames.
type WebSocketPort struct {
	ws          *websocket.Conn
	writeWait   time.Duration
	writeClosed bool
}

// NewWebSocketPort wraps ws. The port takes ownership of ws.
func NewWebSocketPort(ws *websocket.Conn) *WebSocketPort {
	ws.SetReadLimit(MaxFrameSize)
	return &WebSocketPort{ws: ws, writeWait: defaultWriteWait}
}

func (p *WebSocketPort) write(messageType int, data []byte) error {
	if p.writeClosed {
		return errors.New("failed to send message: write side is closed")
	}
	if err := p.ws.SetWriteDeadline(time.Now().Add(p.writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := p.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Send writes one binary frame.
func (p *WebSocketPort) Send(data []byte) error {
	return p.write(websocket.BinaryMessage, data)
}

// SendJSON writes v as one text frame.
func (p *WebSocketPort) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return p.write(websocket.TextMessage, data)
}

func (p *WebSocketPort) read(want int) ([]byte, error) {
	messageType, data, err := p.ws.ReadMessage()
	if err != nil {
		if isEndOfStream(err) {
			return nil, fmt.Errorf("failed to receive message: %w", ErrEOF)
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if messageType != want {
		return nil, fmt.Errorf("expected %s frame, got %s", frameName(want), frameName(messageType))
	}
	return data, nil
}

// Receive reads one binary frame.
func (p *WebSocketPort) Receive() ([]byte, error) {
	return p.read(websocket.BinaryMessage)
}

// ReceiveJSON reads one text frame holding a JSON object.
func (p *WebSocketPort) ReceiveJSON() (Object, error) {
	data, err := p.read(websocket.TextMessage)
	if err != nil {
		return nil, err
	}
	return DecodeObject(data)
}

// CloseWrite stops further sends. WebSocket has no half-close: a close frame
// would make the peer stop sending too, so the close handshake waits for Close.
func (p *WebSocketPort) CloseWrite() error {
	p.writeClosed = true
	return nil
}

// Close sends a normal-closure close frame and closes the connection. It does
// not wait for the peer's reply.
func (p *WebSocketPort) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.writeWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		debug.Debug("Failed to send close frame: %v", err)
	}
	return p.ws.Close()
}

func isEndOfStream(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func frameName(messageType int) string {
	switch messageType {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type %d", messageType)
	}
}
