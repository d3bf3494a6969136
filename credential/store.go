package credential

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrIncompletePair is returned when a pair is missing one of its tokens.
	ErrIncompletePair = errors.New("credential pair must carry both tokens")
	// ErrPersistUnavailable is returned when the persister backend fails.
	ErrPersistUnavailable = errors.New("credential persister unavailable")
)

// Pair is the access/refresh bearer credential pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Empty reports whether neither token is present.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Persister mirrors the pair to durable storage. Load returns a zero Pair and a nil
// error when nothing is stored.
type Persister interface {
	Save(ctx context.Context, pair Pair) error
	Load(ctx context.Context) (Pair, error)
	Delete(ctx context.Context) error
}

// Reader is the read-only view of the store.
type Reader interface {
	AccessToken() (string, bool)
	Pair() (Pair, bool)
	IsAuthenticated() bool
}

// Writer is handed only to the components allowed to mutate credentials: the
// request gateway (on authorization failure) and the authentication flow.
type Writer interface {
	Reader
	Set(ctx context.Context, pair Pair) error
	Clear(ctx context.Context) error
}

// Store is the in-memory credential holder backed by a [Persister].
//
// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	pair      Pair
	persister Persister
}

// NewStore creates a Store. A nil persister keeps the pair in memory only.
func NewStore(persister Persister) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	return &Store{persister: persister}
}

// Set stores both tokens. The durable copy is written first; the in-memory pair only
// changes once the persister accepted it, so both copies move together.
func (s *Store) Set(ctx context.Context, pair Pair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.Save(ctx, pair); err != nil {
		return errors.Join(ErrPersistUnavailable, err)
	}
	s.pair = pair
	return nil
}

// AccessToken returns the current access token, or false when absent.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair.AccessToken == "" {
		return "", false
	}
	return s.pair.AccessToken, true
}

// Pair returns a copy of the current pair, or false when absent.
func (s *Store) Pair() (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.pair.Complete() {
		return Pair{}, false
	}
	return s.pair, true
}

// IsAuthenticated reports whether an access token is held locally. It says nothing
// about whether the backend still accepts the token.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

// Clear removes both tokens. The in-memory pair is always dropped, even when the
// persister fails; the persister error is still returned. Clear is idempotent.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = Pair{}
	if err := s.persister.Delete(ctx); err != nil {
		return errors.Join(ErrPersistUnavailable, err)
	}
	return nil
}

// Restore loads a previously persisted pair into memory. It reports whether a
// complete pair was found. A persisted half-pair is discarded.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, err := s.persister.Load(ctx)
	if err != nil {
		return false, errors.Join(ErrPersistUnavailable, err)
	}
	if pair.Complete() {
		s.pair = pair
		return true, nil
	}

	s.pair = Pair{}
	if !pair.Empty() {
		if err := s.persister.Delete(ctx); err != nil {
			return false, errors.Join(ErrPersistUnavailable, err)
		}
	}
	return false, nil
}

// MemoryPersister keeps the pair in process memory. Two stores sharing one
// MemoryPersister behave like a reload of the same client.
type MemoryPersister struct {
	mu   sync.Mutex
	pair Pair
}

// NewMemoryPersister creates an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Save(_ context.Context, pair Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	return nil
}

func (m *MemoryPersister) Load(context.Context) (Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, nil
}

func (m *MemoryPersister) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = Pair{}
	return nil
}
