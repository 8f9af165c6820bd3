package gridsession

import (
	"encoding/gob"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
)

// Reserved attribute names set by the Configurator to mark a session as
// prepared for replication.
const (
	// ReservedPrefix is the internal attribute namespace. Attributes under it
	// are always retained by the sanitizer.
	ReservedPrefix = "grid.session."

	AttrClustered = ReservedPrefix + "clustered"
	AttrCreated   = ReservedPrefix + "created"
	AttrType      = ReservedPrefix + "type"

	// FrameworkPrefix is the namespace used by the session framework itself.
	FrameworkPrefix = "gridsession."
)

// Decision is the outcome of classifying a single session attribute.
type Decision int

const (
	Keep Decision = iota
	Remove
)

func (d Decision) String() string {
	if d == Keep {
		return "keep"
	}
	return "remove"
}

// Policy decides which session attributes are safe to replicate.
// The zero value is not useful; use DefaultPolicy as a starting point.
type Policy struct {
	// ReservedPrefix names attributes owned by this package. Always safe.
	ReservedPrefix string

	// FrameworkPrefix names attributes owned by the hosting session
	// framework. Always safe.
	FrameworkPrefix string

	// AllowList is a fixed set of application attribute names that are
	// retained regardless of value type.
	AllowList []string

	// ExcludedTypes lists types whose instances must never be replicated,
	// even if they would otherwise encode cleanly. Entries may be concrete
	// types or interface types (matched via Implements).
	ExcludedTypes []reflect.Type
}

// DefaultPolicy returns the policy used by the demo application: the internal
// and framework prefixes, the userMessage/saveTime allow-list, and the
// Session type itself excluded so a session can never be nested inside its
// own attribute map.
func DefaultPolicy() Policy {
	return Policy{
		ReservedPrefix:  ReservedPrefix,
		FrameworkPrefix: FrameworkPrefix,
		AllowList:       []string{"userMessage", "saveTime"},
		ExcludedTypes:   []reflect.Type{reflect.TypeOf((*Session)(nil))},
	}
}

// ExcludeType adds a type to the exclusion list. Pass a value of the type to
// exclude, e.g. ExcludeType((*template.Template)(nil)).
func (p *Policy) ExcludeType(v any) {
	p.ExcludedTypes = append(p.ExcludedTypes, reflect.TypeOf(v))
}

// SafeName reports whether the attribute name alone makes the attribute safe
// to replicate, regardless of its value.
func (p Policy) SafeName(name string) bool {
	if name == "" {
		return false
	}
	if p.ReservedPrefix != "" && strings.HasPrefix(name, p.ReservedPrefix) {
		return true
	}
	if p.FrameworkPrefix != "" && strings.HasPrefix(name, p.FrameworkPrefix) {
		return true
	}
	for _, allowed := range p.AllowList {
		if name == allowed {
			return true
		}
	}
	return false
}

// Classify is a pure classification of a single attribute. It never mutates
// anything and never panics: any failure while inspecting the value yields
// Remove (fail-safe toward removal).
func (p Policy) Classify(name string, value any) Decision {
	if p.SafeName(name) {
		return Keep
	}
	if value == nil {
		return Keep
	}
	if p.excluded(value) {
		return Remove
	}
	if !encodable(value) {
		return Remove
	}
	return Keep
}

func (p Policy) excluded(value any) bool {
	vt := reflect.TypeOf(value)
	for _, t := range p.ExcludedTypes {
		if t == nil {
			continue
		}
		if vt == t {
			return true
		}
		if t.Kind() == reflect.Interface && vt.Implements(t) {
			return true
		}
	}
	return false
}

// encodable probes whether the value survives gob encoding, which is what
// every replication store uses on the wire. Funcs, channels and types with
// no exported fields fail the probe. A panic inside gob or reflect counts
// as a failed probe.
func encodable(value any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return gob.NewEncoder(io.Discard).Encode(value) == nil
}

// Sanitizer prunes session attributes that are unsafe to replicate.
// Classification is delegated to the Policy; the Sanitizer owns the mutation
// step, logging and metrics.
type Sanitizer struct {
	policy  Policy
	log     zerolog.Logger
	metrics *Metrics
}

type SanitizerConfig struct {
	Policy  Policy
	Logger  *zerolog.Logger // nil disables logging
	Metrics *Metrics        // nil disables metrics
}

func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Sanitizer{
		policy:  cfg.Policy,
		log:     logger,
		metrics: cfg.Metrics,
	}
}

// Policy returns the sanitizer's classification policy.
func (sz *Sanitizer) Policy() Policy {
	return sz.policy
}

// Run scans the session's attributes and removes every attribute classified
// as unsafe. It never returns an error and never panics: a failure affecting
// a single attribute marks that attribute for removal, and a failure of the
// pass itself abandons the pass with an error log, leaving the session as-is.
//
// Running the sanitizer twice in a row removes nothing the second time.
func (sz *Sanitizer) Run(s *Session) {
	if s == nil {
		sz.log.Warn().Msg("sanitizer invoked without a session, skipping")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			sz.log.Error().Str("session_id", s.ID).
				Err(fmt.Errorf("sanitization pass failed: %v", r)).
				Msg("abandoning sanitization pass")
		}
	}()

	sz.metrics.incPasses()

	// Two phases: classify against a name snapshot first, then remove.
	// Removing while iterating the live map would miss entries added
	// concurrently and complicate the idempotence argument.
	var doomed []string
	for _, name := range s.AttributeNames() {
		value, ok := s.Get(name)
		if !ok {
			continue // removed concurrently
		}
		if sz.policy.Classify(name, value) == Remove {
			doomed = append(doomed, name)
			sz.log.Debug().Str("session_id", s.ID).Str("attribute", name).
				Msg("marking non-replicable attribute for removal")
		}
	}

	for _, name := range doomed {
		s.Delete(name)
		sz.metrics.incRemovals()
		sz.log.Debug().Str("session_id", s.ID).Str("attribute", name).
			Msg("removed non-replicable attribute")
	}
}
