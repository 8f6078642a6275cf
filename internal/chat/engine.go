// Package chat runs the alternating turn loop on top of an established link.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/operator"
	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/protocol/link"
	"github.com/danmuck/peerchat/internal/transfer"
	"github.com/rs/zerolog"
)

const (
	// Operator commands typed on their own line.
	CommandExit = "EXIT"
	CommandFile = "FILE"

	Banner = "Chat is in session (EXIT to exit chat, FILE to request sending a file)"

	corruptedMessageText = "Error, last message corrupted. Please try again"
	corruptedRequestText = "Error, last request corrupted. Please try again"
)

type Role string

const (
	RoleListener  Role = "listener"
	RoleInitiator Role = "initiator"
)

type State string

const (
	StateSending   State = "sending"
	StateReceiving State = "receiving"
	StateClosed    State = "closed"
)

type Termination string

const (
	TerminationNone  Termination = ""
	TerminationLocal Termination = "local_exit"
	TerminationPeer  Termination = "peer_exit"
)

type Config struct {
	LocalName string
	PeerName  string
}

// WithDefaults fills display names from the role: the listener is the SERVER
// and the initiator the CLIENT.
func (c Config) WithDefaults(role Role) Config {
	local, peer := "SERVER", "CLIENT"
	if role == RoleInitiator {
		local, peer = peer, local
	}
	if strings.TrimSpace(c.LocalName) == "" {
		c.LocalName = local
	}
	if strings.TrimSpace(c.PeerName) == "" {
		c.PeerName = peer
	}
	return c
}

// Snapshot is a point-in-time view of the engine for status reporting.
type Snapshot struct {
	State            State            `json:"state"`
	Termination      Termination      `json:"termination,omitempty"`
	Rounds           uint64           `json:"rounds"`
	MessagesSent     uint64           `json:"messages_sent"`
	MessagesReceived uint64           `json:"messages_received"`
	Transfers        uint64           `json:"transfers"`
	PendingRequest   string           `json:"pending_request,omitempty"`
	LastTransfer     *transfer.Result `json:"last_transfer,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
}

type Engine struct {
	link *link.Link
	op   operator.Operator
	xfer *transfer.Negotiator
	role Role
	cfg  Config
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	term    Termination
	pending *transfer.Pending
	snap    Snapshot
}

// NewEngine sets up the turn order: the initiator speaks first.
func NewEngine(l *link.Link, op operator.Operator, xfer *transfer.Negotiator, role Role, cfg Config, logger zerolog.Logger) *Engine {
	state := StateReceiving
	if role == RoleInitiator {
		state = StateSending
	}
	return &Engine{
		link:  l,
		op:    op,
		xfer:  xfer,
		role:  role,
		cfg:   cfg.WithDefaults(role),
		log:   logger,
		state: state,
	}
}

// IsRoundError reports whether err only failed the current round.
func IsRoundError(err error) bool {
	for _, target := range []error{
		protocol.ErrFrameCorrupted,
		protocol.ErrUnrecognizedFrame,
		protocol.ErrPeerRejected,
		protocol.ErrPayloadTooLarge,
		protocol.ErrInvalidPayload,
		protocol.ErrTruncatedSource,
		protocol.ErrFileOpenFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Run steps the engine until either side exits or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) (Termination, error) {
	for {
		if e.Done() {
			return e.Termination(), nil
		}
		err := e.Step(ctx)
		if err == nil {
			continue
		}
		e.noteError(err)
		if IsRoundError(err) {
			e.log.Warn().Err(err).Str("state", string(e.State())).Msg("round failed")
			continue
		}
		e.setState(StateClosed)
		return e.Termination(), err
	}
}

// Step performs exactly one transition of the turn machine.
func (e *Engine) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.snap.Rounds++
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateSending:
		return e.send(ctx)
	case StateReceiving:
		return e.receive(ctx)
	default:
		return nil
	}
}

func (e *Engine) send(ctx context.Context) error {
	line, err := e.op.Prompt(ctx, "")
	if errors.Is(err, operator.ErrNoInput) {
		e.log.Info().Msg("operator input closed, leaving chat")
		return e.exit()
	}
	if err != nil {
		return err
	}

	switch line {
	case CommandExit:
		return e.exit()
	case CommandFile:
		p, err := e.xfer.Request(ctx)
		if errors.Is(err, operator.ErrNoInput) {
			return e.exit()
		}
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.pending = &p
		e.state = StateReceiving
		e.mu.Unlock()
		return nil
	}

	if err := e.link.Send(frame.KindMessage, frame.SignalPlain, line); err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, protocol.ErrInvalidPayload) {
			e.op.Display(fmt.Sprintf("Message not sent: %v", err))
		}
		return err
	}
	e.mu.Lock()
	e.snap.MessagesSent++
	e.state = StateReceiving
	e.mu.Unlock()
	return nil
}

func (e *Engine) exit() error {
	text := fmt.Sprintf("%s has exited the chat...", e.cfg.LocalName)
	e.mu.Lock()
	e.state = StateClosed
	e.term = TerminationLocal
	e.mu.Unlock()
	if err := e.link.Send(frame.KindMessage, frame.SignalExit, text); err != nil {
		return err
	}
	e.log.Info().Msg("local exit sent")
	return nil
}

func (e *Engine) receive(ctx context.Context) error {
	f, err := e.link.ReadFrame()
	if err != nil {
		if protocol.IsFatal(err) {
			return err
		}
		return e.rejectUnrecognized(err)
	}

	if f.Kind == frame.KindMessage {
		if verr := f.Validate(); verr != nil {
			observability.RecordFrameError("corrupted")
			if err := e.link.Send(frame.KindMessage, frame.SignalMessageError, corruptedMessageText); err != nil {
				return err
			}
			return verr
		}
	}

	pending := e.takePending(f)

	switch {
	case f.Is(frame.KindMessage, frame.SignalPlain):
		e.showPeer(f.Text())
		e.mu.Lock()
		e.snap.MessagesReceived++
		e.state = StateSending
		e.mu.Unlock()
		return nil

	case f.Is(frame.KindMessage, frame.SignalExit):
		e.showPeer(f.Text())
		e.mu.Lock()
		e.state = StateClosed
		e.term = TerminationPeer
		e.mu.Unlock()
		e.log.Info().Msg("peer exited")
		return nil

	case f.Is(frame.KindMessage, frame.SignalMessageError), f.Is(frame.KindMessage, frame.SignalFileError):
		e.showPeer(f.Text())
		observability.RecordFrameError("peer_rejected")
		e.setState(StateSending)
		return fmt.Errorf("%w: %s", protocol.ErrPeerRejected, f.Text())

	case f.Is(frame.KindFileRequest, frame.SignalPlain):
		res, err := e.xfer.Serve(ctx, f)
		e.noteTransfer(res)
		if errors.Is(err, operator.ErrNoInput) {
			e.log.Warn().Err(err).Msg("file request declined, operator input closed")
			return nil
		}
		return err

	// Transfer replies are matched on kind alone; an accepted reply is always
	// followed by the size prefix and stream whatever its signal says.
	case f.Kind == frame.KindFileAccepted, f.Kind == frame.KindFileIgnored:
		if pending == nil {
			e.showPeer(f.Text())
			e.setState(StateSending)
			return nil
		}
		res, err := e.xfer.Complete(ctx, *pending, f)
		e.noteTransfer(res)
		e.setState(StateSending)
		return err
	}

	return e.rejectUnrecognized(fmt.Errorf("%w: %s/%s", protocol.ErrUnrecognizedFrame, f.Kind, f.Signal))
}

func (e *Engine) rejectUnrecognized(cause error) error {
	observability.RecordFrameError("unrecognized")
	if err := e.link.Send(frame.KindMessage, frame.SignalMessageError, corruptedRequestText); err != nil {
		return err
	}
	return cause
}

// takePending hands back our outstanding file request if f answers it. Any
// other frame abandons the request.
func (e *Engine) takePending(f frame.Frame) *transfer.Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pending
	e.pending = nil
	if p == nil {
		return nil
	}
	if f.Kind == frame.KindFileAccepted || f.Kind == frame.KindFileIgnored {
		return p
	}
	e.log.Warn().
		Str("transfer", p.ID.String()).
		Str("kind", f.Kind.String()).
		Str("signal", f.Signal.String()).
		Msg("file request abandoned")
	return nil
}

func (e *Engine) showPeer(text string) {
	e.op.Display(fmt.Sprintf("- - %s - -\n%s\n", e.cfg.PeerName, text))
}

func (e *Engine) noteTransfer(res transfer.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Transfers++
	e.snap.LastTransfer = &res
}

func (e *Engine) noteError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.LastError = err.Error()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Termination() Termination {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term
}

func (e *Engine) Done() bool {
	return e.State() == StateClosed
}

func (e *Engine) Role() Role {
	return e.role
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.snap
	s.State = e.state
	s.Termination = e.term
	if e.pending != nil {
		s.PendingRequest = e.pending.Name
	}
	if e.snap.LastTransfer != nil {
		last := *e.snap.LastTransfer
		s.LastTransfer = &last
	}
	return s
}
