package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/peerchat/internal/chat"
	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/operator"
	"github.com/danmuck/peerchat/internal/protocol"
	"github.com/danmuck/peerchat/internal/protocol/handshake"
	"github.com/danmuck/peerchat/internal/protocol/link"
	"github.com/danmuck/peerchat/internal/transfer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhaseChat      Phase = "chat"
	PhaseClosed    Phase = "closed"
)

// Status is the externally visible state of a session.
type Status struct {
	ID                string           `json:"id"`
	Role              chat.Role        `json:"role"`
	Phase             Phase            `json:"phase"`
	LocalName         string           `json:"local_name"`
	PeerName          string           `json:"peer_name"`
	HandshakeAttempts int              `json:"handshake_attempts"`
	StartedAt         time.Time        `json:"started_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	Chat              chat.Snapshot    `json:"chat"`
	Link              link.Stats       `json:"link"`
	Termination       chat.Termination `json:"termination,omitempty"`
	Error             string           `json:"error,omitempty"`
}

type Session struct {
	id     uuid.UUID
	role   chat.Role
	ch     protocol.Channel
	op     operator.Operator
	cfg    Config
	names  chat.Config
	log    zerolog.Logger
	link   *link.Link
	engine *chat.Engine
	rng    *rand.Rand

	mu        sync.Mutex
	phase     Phase
	attempts  int
	startedAt time.Time
	endedAt   time.Time
	term      chat.Termination
	errText   string
}

func New(ch protocol.Channel, role chat.Role, op operator.Operator, cfg Config, logger zerolog.Logger) *Session {
	cfg = cfg.WithDefaults()
	id := uuid.New()
	names := chat.Config{LocalName: cfg.LocalName, PeerName: cfg.PeerName}.WithDefaults(role)
	lg := logger.With().Str("session", id.String()).Str("role", string(role)).Logger()

	l := link.New(ch, cfg.linkConfig(), lg)
	xfer := transfer.New(l, op, transfer.Config{
		ChunkSize:   transfer.DefaultChunkSize,
		DownloadDir: cfg.DownloadDir,
		MaxSize:     cfg.MaxTransferSize,
		PeerName:    names.PeerName,
	}, lg)

	return &Session{
		id:        id,
		role:      role,
		ch:        ch,
		op:        op,
		cfg:       cfg,
		names:     names,
		log:       lg,
		link:      l,
		engine:    chat.NewEngine(l, op, xfer, role, names, lg),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:     PhaseHandshake,
		startedAt: time.Now(),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run performs the handshake and then the chat loop. The channel is closed
// before Run returns. A canceled ctx is reported as ctx.Err().
func (s *Session) Run(ctx context.Context) (chat.Termination, error) {
	observability.SessionOpened()
	defer observability.SessionClosed()
	stop := s.link.CloseOnDone(ctx)
	defer stop()
	defer func() { _ = s.link.Close() }()

	if err := s.handshake(ctx); err != nil {
		err = contextCause(ctx, err)
		s.finish(chat.TerminationNone, err)
		s.log.Error().Err(err).Int("attempts", s.Status().HandshakeAttempts).Msg("handshake failed")
		return chat.TerminationNone, err
	}

	s.setPhase(PhaseChat)
	s.log.Info().Msg("chat in session")
	s.op.Display(chat.Banner)

	term, err := s.engine.Run(ctx)
	err = contextCause(ctx, err)
	s.finish(term, err)
	if err != nil {
		s.log.Error().Err(err).Msg("session ended")
		return term, err
	}
	s.log.Info().Str("termination", string(term)).Msg("session ended")
	return term, nil
}

func (s *Session) handshake(ctx context.Context) error {
	maxAttempts := s.cfg.MaxHandshakeAttempts
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		err := s.handshakeOnce()
		observability.RecordHandshake(string(s.role), err == nil)
		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("handshake complete")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, protocol.ErrChannelClosed) {
			return err
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("handshake attempt failed")
		s.op.Display("Connection could not be established, trying again")
		if attempt >= maxAttempts {
			return fmt.Errorf("%w: gave up after %d attempts: %v", protocol.ErrHandshakeFailed, attempt, err)
		}
		if err := sleepBackoff(ctx, s.cfg.Backoff, attempt, s.rng); err != nil {
			return err
		}
	}
}

func (s *Session) handshakeOnce() error {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if err := s.ch.SetReadDeadline(deadline); err != nil {
		return protocol.ClassifyIOError(err)
	}
	if err := s.ch.SetWriteDeadline(deadline); err != nil {
		return protocol.ClassifyIOError(err)
	}
	defer func() {
		_ = s.ch.SetReadDeadline(time.Time{})
		_ = s.ch.SetWriteDeadline(time.Time{})
	}()
	if s.role == chat.RoleInitiator {
		return handshake.Initiate(s.ch)
	}
	return handshake.Accept(s.ch)
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) finish(term chat.Termination, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseClosed
	s.endedAt = time.Now()
	s.term = term
	if err != nil {
		s.errText = err.Error()
	}
}

// Status returns a snapshot safe to read from other goroutines.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:                s.id.String(),
		Role:              s.role,
		Phase:             s.phase,
		LocalName:         s.names.LocalName,
		PeerName:          s.names.PeerName,
		HandshakeAttempts: s.attempts,
		StartedAt:         s.startedAt,
		Termination:       s.term,
		Error:             s.errText,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		st.EndedAt = &ended
	}
	s.mu.Unlock()
	st.Chat = s.engine.Snapshot()
	st.Link = s.link.Stats()
	return st
}

func contextCause(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
