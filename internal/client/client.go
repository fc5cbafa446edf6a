package client

import (
	"fmt"

	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/internal/port"
	"github.com/ZerkerEOD/permfarm/pkg/console"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
)

// FleetInfo is the server's view of its worker pool at bootstrap time.
type FleetInfo struct {
	Servers int
	Cores   float64
}

// Handle refers to a running session. It may be abandoned; the session keeps
// running and still reports through the feedback channel.
type Handle struct {
	conn  *Connection
	fleet FleetInfo
	done  chan struct{}
}

// Wait blocks until the session has emitted SessionEnded and released its port.
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed when the session is over.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) SessionID() string {
	return h.conn.ID()
}

func (h *Handle) Fleet() FleetInfo {
	return h.fleet
}

// StartClient introduces this process to the server as a client with the
// given priority. On acceptance it builds the portable descriptors, hands p
// over to a new Connection running on its own goroutine and returns a Handle.
//
// When the server refuses the client, StartClient returns a *RejectedError
// and leaves p untouched; the caller still owns it.
func StartClient(
	p port.Port,
	perms []*permuter.Permuter,
	tasks <-chan permuter.Task,
	feedback chan<- permuter.Feedback,
	priority float64,
) (*Handle, error) {
	if err := p.SendJSON(helloMessage{Method: "client", Priority: priority}); err != nil {
		return nil, fmt.Errorf("failed to send client hello: %w", err)
	}
	reply, err := p.ReceiveJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to receive server hello: %w", err)
	}

	if reply.Has("error") {
		text, err := port.Prop[string](reply, "error")
		if err != nil {
			return nil, malformed(err)
		}
		console.Error("Failed to connect: %s", text)
		return nil, &RejectedError{Message: text}
	}

	servers, err := port.Prop[int](reply, "servers")
	if err != nil {
		return nil, malformed(err)
	}
	cores, err := port.Prop[float64](reply, "cores")
	if err != nil {
		return nil, malformed(err)
	}
	console.Success("Connected! %d servers online (%d cores)", servers, int(cores))

	portable, err := NewPortablePermuters(perms)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(p, portable, tasks, feedback)
	h := &Handle{
		conn:  conn,
		fleet: FleetInfo{Servers: servers, Cores: cores},
		done:  make(chan struct{}),
	}
	debug.Info("Starting session %s with %d permuters", conn.ID(), len(portable))

	go func() {
		defer close(h.done)
		conn.Run()
	}()
	return h, nil
}
