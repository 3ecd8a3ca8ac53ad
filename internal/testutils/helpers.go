// Package testutils provides in-memory collaborator fakes shared by the
// engine, runner, monitor and service tests.
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
)

// MemBroker is an in-memory pub/sub transport.
type MemBroker struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	published map[string][][]byte
}

// NewMemBroker creates an empty broker.
func NewMemBroker() *MemBroker {
	return &MemBroker{
		subs:      make(map[string][]chan []byte),
		published: make(map[string][][]byte),
	}
}

// Publish records the payload and fans it out to current subscribers.
func (b *MemBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.published[channel] = append(b.published[channel], cp)

	for _, ch := range b.subs[channel] {
		select {
		case ch <- cp:
		default: // slow subscriber, drop like a real pub/sub would
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber channel.
func (b *MemBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, 64)
	b.subs[channel] = append(b.subs[channel], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Published returns everything published on a channel so far.
func (b *MemBroker) Published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[channel]))
	copy(out, b.published[channel])
	return out
}

// MemSessionStore is an in-memory session repository with the same terminal
// transition guard as the SQLite store.
type MemSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemSessionStore creates an empty store.
func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{sessions: make(map[string]*domain.Session)}
}

// Create inserts the session.
func (s *MemSessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	if cp.StatusUpdatedAt.IsZero() {
		cp.StatusUpdatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = &cp
	return nil
}

// Get returns a copy of the session.
func (s *MemSessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// UpdateStatus transitions the session, dropping expired-after-terminal.
func (s *MemSessionStore) UpdateStatus(_ context.Context, id string, status domain.SessionStatus, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if status == domain.StatusExpired && sess.Status.Terminal() {
		return nil
	}
	sess.Status = status
	sess.StatusData = data
	sess.StatusUpdatedAt = time.Now().UTC()
	if status.Terminal() && sess.FinishedAt == nil {
		now := time.Now().UTC()
		sess.FinishedAt = &now
	}
	return nil
}

// SaveVariables stores a deep copy of the variable map.
func (s *MemSessionStore) SaveVariables(_ context.Context, id string, variables map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Variables = vars.Copy(variables).(map[string]any)
	return nil
}

// ListActive returns sessions in an active status with a non-zero TTL.
func (s *MemSessionStore) ListActive(_ context.Context) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.Status.Active() && sess.TimeToLive != 0 {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}
