// Package memory keeps the ledger in process memory. Transactions work on a
// copy of the state that replaces the live state only when fn succeeds.
package memory

import (
	"context"
	"sync"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
)

type state struct {
	wallets    map[uuid.UUID]models.Wallet
	entries    map[uuid.UUID]models.Entry
	categories map[uuid.UUID]models.Category
	audit      []models.AuditRecord
	counters   map[models.EntryKind]int64
}

func newState() *state {
	return &state{
		wallets:    make(map[uuid.UUID]models.Wallet),
		entries:    make(map[uuid.UUID]models.Entry),
		categories: make(map[uuid.UUID]models.Category),
		counters:   make(map[models.EntryKind]int64),
	}
}

func (s *state) clone() *state {
	c := &state{
		wallets:    make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		entries:    make(map[uuid.UUID]models.Entry, len(s.entries)),
		categories: make(map[uuid.UUID]models.Category, len(s.categories)),
		audit:      make([]models.AuditRecord, len(s.audit)),
		counters:   make(map[models.EntryKind]int64, len(s.counters)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	copy(c.audit, s.audit)
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

type Store struct {
	mu    sync.RWMutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

var _ repository.Store = (*Store)(nil)

// Repos returns repositories that commit each write immediately.
func (s *Store) Repos() repository.Repositories {
	return s.bind(&view{store: s})
}

func (s *Store) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(s.bind(&view{store: s, tx: work})); err != nil {
		return err
	}
	s.state = work
	return nil
}

// SeedCategory registers a category owned by the settings screens.
func (s *Store) SeedCategory(c models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.categories[c.ID] = c
}

func (s *Store) bind(v *view) repository.Repositories {
	return repository.Repositories{
		Wallets:    &walletRepo{v},
		Entries:    &entryRepo{v},
		Categories: &categoryRepo{v},
		Audit:      &auditRepo{v},
	}
}

// view routes repository calls either to a transaction's working copy or,
// under the store lock, to the live state.
type view struct {
	store *Store
	tx    *state
}

func (v *view) read(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.state)
}

func (v *view) write(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	work := v.store.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	v.store.state = work
	return nil
}
