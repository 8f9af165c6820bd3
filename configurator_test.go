package gridsession

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfigurator(metrics *Metrics) *Configurator {
	return NewConfigurator(ConfiguratorConfig{
		Sanitizer: NewSanitizer(SanitizerConfig{Policy: testPolicy(), Metrics: metrics}),
		Metrics:   metrics,
	})
}

func TestConfigurator_SessionInit(t *testing.T) {
	cfgr := newTestConfigurator(nil)

	s := &Session{ID: "init-session", Values: map[string]any{}}
	s.Set("userMessage", "hello")
	s.Set("leaky", func() {})

	cfgr.SessionInit(s)

	v, ok := s.Get(AttrClustered)
	require.True(t, ok)
	assert.Equal(t, true, v)
	_, ok = s.Get(AttrCreated)
	assert.True(t, ok)
	v, ok = s.Get(AttrType)
	require.True(t, ok)
	assert.Equal(t, "replicated", v)

	assert.Equal(t, DefaultMaxInactive, s.MaxInactive)

	_, ok = s.Get("userMessage")
	assert.True(t, ok, "allow-listed attribute must survive")
	_, ok = s.Get("leaky")
	assert.False(t, ok, "unsafe attribute must be pruned on init")
}

func TestConfigurator_SessionInitIdempotent(t *testing.T) {
	cfgr := newTestConfigurator(nil)

	s := &Session{ID: "idem-session", Values: map[string]any{}}
	cfgr.SessionInit(s)

	created, ok := s.Get(AttrCreated)
	require.True(t, ok)

	time.Sleep(2 * time.Millisecond)
	cfgr.SessionInit(s)

	again, _ := s.Get(AttrCreated)
	assert.Equal(t, created, again, "creation marker must not change on re-init")
}

func TestConfigurator_NilAndIncompleteSessions(t *testing.T) {
	cfgr := newTestConfigurator(nil)

	// Must not panic and must not touch the guard.
	cfgr.SessionInit(nil)
	cfgr.UIInit(nil)
	cfgr.SessionDestroy("")

	s := &Session{Values: map[string]any{}} // no ID yet
	cfgr.SessionInit(s)
	_, ok := s.Get(AttrClustered)
	assert.False(t, ok, "half-initialized session must be left alone")
	assert.Equal(t, 0, cfgr.Guard().Len())
}

func TestConfigurator_GuardedSkip(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cfgr := newTestConfigurator(metrics)

	s := &Session{ID: "guarded", Values: map[string]any{}}
	s.Set("leaky", func() {})

	// Simulate a pass already in progress for this session.
	require.True(t, cfgr.Guard().TryBegin(s.ID))

	cfgr.SessionInit(s)
	_, ok := s.Get("leaky")
	assert.True(t, ok, "losing invocation must be a no-op")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.skips))

	// Release and retry: the pass runs.
	cfgr.Guard().End(s.ID)
	cfgr.SessionInit(s)
	_, ok = s.Get("leaky")
	assert.False(t, ok)
}

func TestConfigurator_DestroyReleasesGuard(t *testing.T) {
	cfgr := newTestConfigurator(nil)

	s := &Session{ID: "doomed", Values: map[string]any{}}
	cfgr.SessionInit(s)
	require.Equal(t, 1, cfgr.Guard().Len())

	// Destroy while a pass is marked in-progress: the entry must still go
	// away and the ID must be re-acquirable afterwards.
	require.True(t, cfgr.Guard().TryBegin(s.ID))
	cfgr.SessionDestroy(s.ID)
	assert.Equal(t, 0, cfgr.Guard().Len())
	assert.True(t, cfgr.Guard().TryBegin(s.ID))
}

func TestConfigurator_UIInitTouches(t *testing.T) {
	cfgr := newTestConfigurator(nil)

	s := &Session{ID: "ui", Values: map[string]any{}}
	before := s.LastAccessed

	cfgr.UIInit(s)
	assert.True(t, s.LastAccessed.After(before))
}
