package client

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/internal/port"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Connection runs one session with a server: it registers the permuters,
// checks the server's baselines against ours, then relays tasks to the server
// and server events back as feedback until either side finishes.
//
// The main loop alternates strictly: pop one task (unless draining), send it,
// then receive exactly one server message. This keeps at most one message in
// flight towards the server and stops local queues from growing without bound.
type Connection struct {
	id  string
	log *debug.Logger

	port      port.Port
	permuters []*PortablePermuter
	tasks     <-chan permuter.Task
	feedback  chan<- permuter.Feedback

	serverNick  string
	finished    bool
	writeClosed bool
	started     atomic.Bool
}

// NewConnection binds a session to p. The Connection owns p from here on;
// nothing else may use it.
func NewConnection(
	p port.Port,
	permuters []*PortablePermuter,
	tasks <-chan permuter.Task,
	feedback chan<- permuter.Feedback,
) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:        id,
		log:       debug.WithPrefix("session " + id[:8]),
		port:      p,
		permuters: permuters,
		tasks:     tasks,
		feedback:  feedback,
	}
}

// ID returns the session's correlation id.
func (c *Connection) ID() string {
	return c.id
}

// Run executes the session to completion. Whatever happens, it emits exactly
// one SessionEnded as the last feedback item and then releases the port.
// Run may only be called once; later calls return immediately.
func (c *Connection) Run() {
	if !c.started.CompareAndSwap(false, true) {
		c.log.Warning("Run called on a connection that already ran")
		return
	}

	var reason string
	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Session panicked: %v", r)
			reason = fmt.Sprintf("error: panic: %v", r)
		}
		c.log.Info("Session ended (reason: %q)", reason)
		c.feedback <- permuter.Feedback{Item: permuter.SessionEnded{Reason: reason}}
	}()

	reason, err := c.session()
	if err != nil {
		c.log.Error("Session failed: %v", err)
		reason = failureReason(err)
	}
}

// failureReason classifies a fatal session error for SessionEnded.
func failureReason(err error) string {
	if errors.Is(err, port.ErrEOF) {
		return "disconnected"
	}
	return "error: " + err.Error()
}

// malformed marks a field decoding error as a protocol violation.
func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func (c *Connection) emit(item permuter.FeedbackItem) {
	c.feedback <- permuter.Feedback{Item: item, Server: c.serverNick}
}

// session returns a non-empty reason for a clean refusal by the server, or
// an error for any failure.
func (c *Connection) session() (string, error) {
	if err := c.sendPermuters(); err != nil {
		return "", err
	}

	msg, err := c.port.ReceiveJSON()
	if err != nil {
		return "", err
	}
	nick, err := port.Prop[string](msg, "server")
	if err != nil {
		return "", malformed(err)
	}
	c.serverNick = nick
	c.log = debug.WithPrefix(fmt.Sprintf("session %s %s", c.id[:8], nick))

	success, err := port.Prop[bool](msg, "success")
	if err != nil {
		return "", malformed(err)
	}
	if !success {
		text, err := port.Prop[string](msg, "error")
		if err != nil {
			return "", malformed(err)
		}
		c.log.Warning("Server failed to compile permuters: %s", text)
		return "failed to compile: " + text, nil
	}

	if err := c.verifyBaselines(msg); err != nil {
		return "", err
	}
	c.emit(permuter.NeedMoreWork{})

	return "", c.loop()
}

func (c *Connection) sendPermuters() error {
	infos := make([]permuterInfo, 0, len(c.permuters))
	total := 0
	for _, p := range c.permuters {
		infos = append(infos, permuterInfo{
			FnName:           p.FnName,
			Filename:         p.Filename,
			KeepProb:         p.KeepProb,
			StackDifferences: p.StackDifferences,
			CompileScript:    p.CompileScript,
		})
		total += p.payloadSize()
	}
	if err := c.port.SendJSON(registrationMessage{Permuters: infos}); err != nil {
		return err
	}

	// Payloads follow in registration order with no extra framing
	for _, p := range c.permuters {
		if err := c.port.Send(p.CompressedSource); err != nil {
			return err
		}
		if err := c.port.Send(p.TargetOBin); err != nil {
			return err
		}
	}

	c.log.Info("Registered %d permuters (%d payload bytes)", len(c.permuters), total)
	return nil
}

func (c *Connection) verifyBaselines(msg port.Object) error {
	bases, err := port.Objects(msg, "perm_bases")
	if err != nil {
		return malformed(err)
	}
	if len(bases) != len(c.permuters) {
		return protocolError("perm_bases has wrong size (%d, expected %d)", len(bases), len(c.permuters))
	}

	for i, base := range bases {
		score, err := port.Prop[int](base, "base_score")
		if err != nil {
			return malformed(err)
		}
		hash, err := port.Prop[string](base, "base_hash")
		if err != nil {
			return malformed(err)
		}

		local := c.permuters[i]
		if score != local.BaseScore {
			return &BaselineMismatchError{Index: i, Local: local.BaseScore, Remote: score}
		}
		// Equal scores with different hashes happen with benign
		// non-determinism in the server's build
		if hash != local.BaseHash {
			c.log.Warning("Base hash mismatch for %s: %s instead of %s", local.FnName, hash, local.BaseHash)
			c.emit(permuter.Note{Text: "note: mismatching hash"})
		}
	}
	return nil
}

func (c *Connection) loop() error {
	for {
		if !c.finished {
			if err := c.forwardTask(); err != nil {
				return err
			}
		}

		msg, err := c.port.ReceiveJSON()
		if err != nil {
			return err
		}
		msgType, err := port.Prop[string](msg, "type")
		if err != nil {
			return malformed(err)
		}

		switch MessageType(msgType) {
		case TypeFinish:
			c.log.Info("Server finished the session")
			return nil
		case TypeNeedWork:
			c.emit(permuter.NeedMoreWork{})
		case TypeResult:
			if err := c.handleResult(msg); err != nil {
				return err
			}
		default:
			return protocolError("invalid message type %q", msgType)
		}
	}
}

// forwardTask pops one task, blocking until the producer supplies it. A
// closed task channel counts as Finished.
func (c *Connection) forwardTask() error {
	task, ok := <-c.tasks
	if !ok {
		task = permuter.Finished{}
	}

	switch t := task.(type) {
	case permuter.Finished:
		if err := c.port.SendJSON(finishMessage{Type: TypeFinish}); err != nil {
			return err
		}
		if err := c.port.CloseWrite(); err != nil {
			return err
		}
		c.writeClosed = true
		c.finished = true
		c.log.Info("No more work, draining results")
	case permuter.Work:
		if t.Permuter < 0 || t.Permuter >= len(c.permuters) {
			return fmt.Errorf("task names unknown permuter %d", t.Permuter)
		}
		return c.port.SendJSON(workMessage{Type: TypeWork, Permuter: t.Permuter, Seed: t.Seed})
	default:
		return fmt.Errorf("unexpected task %T", task)
	}
	return nil
}

func (c *Connection) handleResult(msg port.Object) error {
	index, err := port.Prop[int](msg, "permuter")
	if err != nil {
		return malformed(err)
	}
	if index < 0 || index >= len(c.permuters) {
		return protocolError("result for unknown permuter %d", index)
	}

	hasSource, _, err := port.OptionalProp[bool](msg, "has_source")
	if err != nil {
		return malformed(err)
	}

	var source *string
	if hasSource {
		// Sources can be hundreds of kilobytes, so they travel compressed
		// as a separate binary message
		data, err := c.port.Receive()
		if err != nil {
			return err
		}
		text, err := decompressSource(data)
		if err != nil {
			return malformed(err)
		}
		source = &text
	}

	result, err := decodeResult(msg, source)
	if err != nil {
		return malformed(err)
	}
	c.emit(permuter.WorkDone{Permuter: index, Result: result})
	return nil
}

// release half-closes (if still needed) and closes the port. Errors are only
// logged: the session outcome has already been reported.
func (c *Connection) release() {
	var result *multierror.Error
	if !c.writeClosed {
		c.writeClosed = true
		if err := c.port.CloseWrite(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.port.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		c.log.Debug("Errors while releasing transport: %v", err)
	}
}
