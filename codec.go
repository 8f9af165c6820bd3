package gridsession

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// sessionEnvelope is the wire form used by the key-value stores (Redis,
// Memcached), which have no columns to hold the session metadata.
type sessionEnvelope struct {
	Values       map[string]any
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
	MaxInactive  int
}

func init() {
	gob.Register(map[string]any{})
	gob.Register(sessionEnvelope{})
}

func encodeEnvelope(buf *bytes.Buffer, session *Session) error {
	env := sessionEnvelope{
		Values:       session.Values,
		CreatedAt:    session.CreatedAt,
		LastAccessed: session.LastAccessed,
		ExpiresAt:    session.ExpiresAt,
		MaxInactive:  session.MaxInactive,
	}
	if err := gob.NewEncoder(buf).Encode(env); err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	return nil
}

func decodeEnvelope(data []byte, id string) (*Session, error) {
	var env sessionEnvelope

	reader := readerPool.Get().(*bytes.Reader)
	reader.Reset(data)
	defer readerPool.Put(reader)

	if err := gob.NewDecoder(reader).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}

	if env.Values == nil {
		env.Values = make(map[string]any)
	}

	return &Session{
		ID:           id,
		Values:       env.Values,
		CreatedAt:    env.CreatedAt,
		LastAccessed: env.LastAccessed,
		ExpiresAt:    env.ExpiresAt,
		MaxInactive:  env.MaxInactive,
	}, nil
}
