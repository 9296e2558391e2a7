package calcd

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store used by tests and by integration runs
// that don't want a Postgres dependency. It enforces the same uniqueness and
// ownership semantics as PGStore.
type MemoryStore struct {
	mtx          sync.RWMutex
	users        map[uuid.UUID]*User
	calculations map[uuid.UUID]*Calculation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[uuid.UUID]*User),
		calculations: make(map[uuid.UUID]*Calculation),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrDuplicateUser
		}
	}

	cpy := *u
	s.users[u.ID] = &cpy
	return nil
}

func (s *MemoryStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cpy := *u
	return &cpy, nil
}

func (s *MemoryStore) CreateCalculation(ctx context.Context, c *Calculation) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.calculations[c.ID] = copyCalculation(c)
	return nil
}

func (s *MemoryStore) CalculationByID(ctx context.Context, userID, id uuid.UUID) (*Calculation, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	c, ok := s.calculations[id]
	if !ok || c.UserID != userID {
		return nil, ErrRecordNotFound
	}
	return copyCalculation(c), nil
}

func (s *MemoryStore) CalculationsByUser(ctx context.Context, userID uuid.UUID) ([]*Calculation, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var out []*Calculation
	for _, c := range s.calculations {
		if c.UserID == userID {
			out = append(out, copyCalculation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateCalculationInputs(ctx context.Context, userID, id uuid.UUID, inputs []float64) (*Calculation, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	c, ok := s.calculations[id]
	if !ok || c.UserID != userID {
		return nil, ErrRecordNotFound
	}
	c.Inputs = append([]float64(nil), inputs...)
	c.UpdatedAt = time.Now().UTC()
	return copyCalculation(c), nil
}

func (s *MemoryStore) DeleteCalculation(ctx context.Context, userID, id uuid.UUID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	c, ok := s.calculations[id]
	if !ok || c.UserID != userID {
		return ErrRecordNotFound
	}
	delete(s.calculations, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() {}

// Migrate and Drop satisfy Migrator. Drop mirrors the Postgres behavior so
// the test harness can reset state between runs.
func (s *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Drop(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.users = make(map[uuid.UUID]*User)
	s.calculations = make(map[uuid.UUID]*Calculation)
	return nil
}

func copyCalculation(c *Calculation) *Calculation {
	cpy := *c
	cpy.Inputs = append([]float64(nil), c.Inputs...)
	return &cpy
}
