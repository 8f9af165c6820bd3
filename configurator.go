package gridsession

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Configurator prepares sessions for replication. It is the consumer of the
// manager's lifecycle events: on session init it marks the session, applies
// the inactivity timeout and runs the sanitizer; on session destroy it
// releases the per-session processing guard.
//
// Every handler tolerates nil or half-initialized input. Some hosting
// environments deliver init events before the session is fully set up, and a
// missing session must never take the application down.
type Configurator struct {
	sanitizer   *Sanitizer
	guard       *Guard
	maxInactive int
	sessionType string
	log         zerolog.Logger
	metrics     *Metrics
}

type ConfiguratorConfig struct {
	Sanitizer   *Sanitizer
	Guard       *Guard
	MaxInactive int    // seconds; defaults to DefaultMaxInactive
	SessionType string // value of the grid.session.type marker; defaults to "replicated"
	Logger      *zerolog.Logger
	Metrics     *Metrics
}

func NewConfigurator(cfg ConfiguratorConfig) *Configurator {
	if cfg.MaxInactive == 0 {
		cfg.MaxInactive = DefaultMaxInactive
	}
	if cfg.SessionType == "" {
		cfg.SessionType = "replicated"
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	guard := cfg.Guard
	if guard == nil {
		guard = NewGuard()
	}
	return &Configurator{
		sanitizer:   cfg.Sanitizer,
		guard:       guard,
		maxInactive: cfg.MaxInactive,
		sessionType: cfg.SessionType,
		log:         logger,
		metrics:     cfg.Metrics,
	}
}

// Guard returns the processing guard, mainly so callers can share it or
// inspect it in tests.
func (c *Configurator) Guard() *Guard {
	return c.guard
}

// SessionInit handles the "session initialized" event. It is safe to call
// concurrently for the same session: the processing guard ensures only one
// pass runs per session ID, losers skip. The routine is idempotent and never
// propagates a failure to the caller.
func (c *Configurator) SessionInit(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Err(fmt.Errorf("session init handling failed: %v", r)).
				Msg("session initialization aborted")
		}
	}()

	if s == nil {
		c.log.Warn().Msg("session init event carried no session, skipping configuration")
		return
	}
	if s.ID == "" {
		c.log.Warn().Msg("session has no ID yet, initialization incomplete, skipping configuration")
		return
	}

	c.log.Debug().Str("session_id", s.ID).Msg("session initialized")

	if !c.guard.TryBegin(s.ID) {
		c.log.Debug().Str("session_id", s.ID).Msg("session already being processed, skipping")
		c.metrics.incSkips()
		return
	}
	defer c.guard.End(s.ID)

	c.configure(s)
}

func (c *Configurator) configure(s *Session) {
	// Mark the session as prepared for replication. The markers live under
	// the reserved prefix, so the sanitizer always retains them.
	s.Set(AttrClustered, true)
	if _, ok := s.Get(AttrCreated); !ok {
		s.Set(AttrCreated, time.Now().UnixMilli())
	}
	s.Set(AttrType, c.sessionType)

	s.mu.Lock()
	s.MaxInactive = c.maxInactive
	s.mu.Unlock()

	if c.sanitizer != nil {
		c.sanitizer.Run(s)
	}

	c.log.Debug().Str("session_id", s.ID).Msg("session configured for replication")
}

// SessionDestroy handles the "session destroyed" event. It drops the guard
// entry for the session so the guard map stays bounded and a later session
// with the same ID can acquire the flag again.
func (c *Configurator) SessionDestroy(id string) {
	if id == "" {
		c.log.Debug().Msg("session destroyed but ID could not be determined")
		return
	}
	c.guard.Forget(id)
	c.log.Debug().Str("session_id", id).Msg("session destroyed")
}

// UIInit handles the "UI initialized" event. Purely observational: it logs
// and refreshes the last-accessed time.
func (c *Configurator) UIInit(s *Session) {
	if s == nil {
		c.log.Warn().Msg("UI init event carried no session")
		return
	}
	s.Touch()
	c.log.Debug().Str("session_id", s.ID).Msg("UI initialized for session")
}
