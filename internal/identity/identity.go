// Package identity creates and resolves durable per-client session identifiers.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Store resolves session identities against the durable scope.
type Store struct {
	kv  storage.KV
	now func() time.Time

	// serializes create-if-missing so two first visits cannot race
	mu sync.Mutex
}

// New creates an identity store backed by durable storage.
func New(kv storage.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Resolve returns the session for id, creating a new one when id is empty
// or unknown. The boolean reports whether a session was created.
func (s *Store) Resolve(ctx context.Context, id string) (*types.Session, bool, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && validID(id) {
		sess, err := s.get(ctx, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
	}

	sess := &types.Session{
		ID:        NewID(),
		CreatedAt: s.now().UnixMilli(),
	}
	if err := s.kv.Put(ctx, []string{"session", sess.ID}, sess); err != nil {
		return nil, false, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, true, nil
}

// Get returns an existing session.
func (s *Store) Get(ctx context.Context, id string) (*types.Session, error) {
	if !validID(id) {
		return nil, storage.ErrNotFound
	}
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	if err := s.kv.Get(ctx, []string{"session", id}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// NewID returns a new lexically sortable identifier.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// validID rejects anything that is not a ULID so client-supplied ids can
// never escape the storage directory.
func validID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
