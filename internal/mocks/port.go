package mocks

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ZerkerEOD/permfarm/internal/port"
)

// Frame is one message travelling through a MockPort.
type Frame struct {
	JSON bool
	Data []byte
}

// MockPort implements port.Port over a scripted list of incoming frames.
// Every call is recorded in Events so tests can assert on ordering.
type MockPort struct {
	mu sync.Mutex

	// Incoming frames, consumed in order
	incoming []Frame

	// Recorded outgoing frames
	sent []Frame

	// Events in call order: "send", "send_json", "receive", "receive_json",
	// "close_write" and "close"
	Events []string

	// Control behavior
	ReceiveError    error // returned once the script is exhausted; defaults to port.ErrEOF
	SendError       error
	CloseWriteError error
	CloseError      error

	WriteClosed bool
	Closed      bool
}

// NewMockPort creates an empty mock port.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// QueueJSON scripts an incoming JSON message.
func (m *MockPort) QueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mocks: cannot marshal %T: %v", v, err))
	}
	m.QueueRawJSON(data)
}

// QueueRawJSON scripts an incoming JSON message from literal text.
func (m *MockPort) QueueRawJSON(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming = append(m.incoming, Frame{JSON: true, Data: data})
}

// QueueBytes scripts an incoming binary message.
func (m *MockPort) QueueBytes(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming = append(m.incoming, Frame{Data: data})
}

// Pending returns the number of scripted frames not yet received.
func (m *MockPort) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incoming)
}

// Sent returns a copy of all outgoing frames.
func (m *MockPort) Sent() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.sent...)
}

// SentJSON decodes every outgoing JSON frame, in order.
func (m *MockPort) SentJSON() []map[string]any {
	var out []map[string]any
	for _, f := range m.Sent() {
		if !f.JSON {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal(f.Data, &v); err != nil {
			panic(fmt.Sprintf("mocks: sent invalid JSON %q: %v", f.Data, err))
		}
		out = append(out, v)
	}
	return out
}

// SentBytes returns every outgoing binary frame, in order.
func (m *MockPort) SentBytes() [][]byte {
	var out [][]byte
	for _, f := range m.Sent() {
		if !f.JSON {
			out = append(out, f.Data)
		}
	}
	return out
}

// EventLog returns a copy of the recorded events.
func (m *MockPort) EventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Events...)
}

func (m *MockPort) send(frame Frame, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, event)
	if m.Closed || m.WriteClosed {
		return errors.New("mocks: send on closed port")
	}
	if m.SendError != nil {
		return m.SendError
	}
	m.sent = append(m.sent, frame)
	return nil
}

// Send implements port.Port
func (m *MockPort) Send(data []byte) error {
	return m.send(Frame{Data: append([]byte(nil), data...)}, "send")
}

// SendJSON implements port.Port
func (m *MockPort) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.send(Frame{JSON: true, Data: data}, "send_json")
}

func (m *MockPort) next(event string) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, event)
	if m.Closed {
		return Frame{}, errors.New("mocks: receive on closed port")
	}
	if len(m.incoming) == 0 {
		if m.ReceiveError != nil {
			return Frame{}, m.ReceiveError
		}
		return Frame{}, fmt.Errorf("mocks: script exhausted: %w", port.ErrEOF)
	}
	frame := m.incoming[0]
	m.incoming = m.incoming[1:]
	return frame, nil
}

// Receive implements port.Port
func (m *MockPort) Receive() ([]byte, error) {
	frame, err := m.next("receive")
	if err != nil {
		return nil, err
	}
	if frame.JSON {
		return nil, errors.New("mocks: expected binary message, got JSON")
	}
	return frame.Data, nil
}

// ReceiveJSON implements port.Port
func (m *MockPort) ReceiveJSON() (port.Object, error) {
	frame, err := m.next("receive_json")
	if err != nil {
		return nil, err
	}
	if !frame.JSON {
		return nil, errors.New("mocks: expected JSON message, got binary")
	}
	return port.DecodeObject(frame.Data)
}

// CloseWrite implements port.Port
func (m *MockPort) CloseWrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, "close_write")
	m.WriteClosed = true
	return m.CloseWriteError
}

// Close implements port.Port
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, "close")
	m.Closed = true
	return m.CloseError
}
