// Package reconnect drives bounded re-join attempts after the media link
// degrades. A generation counter lets a stale in-flight attempt detect it
// has been superseded and discard its own result instead of racing shared
// flags.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/client/signaling"
)

type State int

const (
	Idle State = iota
	Retrying
	StoppedSuccess
	StoppedAuthFailed
	StoppedExhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Retrying:
		return "retrying"
	case StoppedSuccess:
		return "stopped:success"
	case StoppedAuthFailed:
		return "stopped:auth-failed"
	default:
		return "stopped:exhausted"
	}
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailed
	OutcomeExhausted
)

// JoinFunc re-invokes the join operation with the session's original room
// identity and password. It must resolve within ctx.
type JoinFunc func(ctx context.Context) error

type Config struct {
	Interval       time.Duration // delay between attempts
	MaxAttempts    int
	AttemptTimeout time.Duration // bound on a single join round trip
}

func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Second,
		MaxAttempts:    12,
		AttemptTimeout: 5 * time.Second,
	}
}

type Supervisor struct {
	mu         sync.Mutex
	state      State
	gen        uint64
	cancel     chan struct{}
	authFailed bool

	join     JoinFunc
	cfg      Config
	outcomes chan Outcome
}

func NewSupervisor(join JoinFunc, cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Supervisor{
		join:     join,
		cfg:      cfg,
		outcomes: make(chan Outcome, 1),
	}
}

// Outcomes delivers the terminal result of each retry run.
func (s *Supervisor) Outcomes() <-chan Outcome { return s.outcomes }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger starts a retry run. It is a no-op while a run is already in
// flight, and permanently after an authentication failure: that error is
// terminal for the session.
func (s *Supervisor) Trigger() bool {
	s.mu.Lock()
	if s.state == Retrying || s.authFailed {
		s.mu.Unlock()
		return false
	}
	s.gen++
	gen := s.gen
	s.state = Retrying
	s.cancel = make(chan struct{})
	cancel := s.cancel
	s.mu.Unlock()

	log.Info().Str("module", "reconnect").Uint64("gen", gen).Msg("retry run started")
	go s.run(gen, cancel)
	return true
}

// NotifySuccess cancels any pending run: some other path re-established
// the session. Attempts from the superseded generation discard their
// results.
func (s *Supervisor) NotifySuccess() {
	s.stop(StoppedSuccess, OutcomeSuccess, false)
}

func (s *Supervisor) run(gen uint64, cancel chan struct{}) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		select {
		case <-cancel:
			return
		case <-timer.C:
		}

		ctx, done := context.WithTimeout(context.Background(), s.cfg.AttemptTimeout)
		err := s.join(ctx)
		done()

		if s.superseded(gen) {
			log.Info().Str("module", "reconnect").Uint64("gen", gen).Msg("stale attempt discarded")
			return
		}

		switch {
		case err == nil:
			log.Info().Str("module", "reconnect").Int("attempt", attempt).Msg("rejoin succeeded")
			s.stop(StoppedSuccess, OutcomeSuccess, false)
			return
		case errors.Is(err, signaling.ErrAuthFailed):
			log.Warn().Str("module", "reconnect").Int("attempt", attempt).Msg("auth failed, retries suppressed")
			s.stop(StoppedAuthFailed, OutcomeAuthFailed, true)
			return
		default:
			log.Info().Err(err).Str("module", "reconnect").Int("attempt", attempt).Msg("rejoin attempt failed")
		}

		timer.Reset(s.cfg.Interval)
	}

	if s.superseded(gen) {
		return
	}
	log.Warn().Str("module", "reconnect").Int("max_attempts", s.cfg.MaxAttempts).Msg("retries exhausted")
	s.stop(StoppedExhausted, OutcomeExhausted, false)
}

func (s *Supervisor) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen || s.state != Retrying
}

func (s *Supervisor) stop(st State, out Outcome, latchAuth bool) {
	s.mu.Lock()
	if latchAuth {
		s.authFailed = true
	}
	if s.state != Retrying {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.gen++
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
	s.mu.Unlock()

	select {
	case s.outcomes <- out:
	default:
	}
}
