package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
)

type walletRepo struct{ v *view }

func activeCodeTaken(st *state, code string, exclude uuid.UUID) bool {
	for id, w := range st.wallets {
		if id != exclude && !w.IsDeleted() && strings.EqualFold(w.Code, code) {
			return true
		}
	}
	return false
}

func (r *walletRepo) Create(ctx context.Context, w *models.Wallet) error {
	return r.v.write(ctx, func(st *state) error {
		if _, ok := st.wallets[w.ID]; ok {
			return repository.ErrDuplicate
		}
		if activeCodeTaken(st, w.Code, w.ID) {
			return repository.ErrDuplicate
		}
		st.wallets[w.ID] = *w
		return nil
	})
}

func (r *walletRepo) Update(ctx context.Context, w *models.Wallet) error {
	return r.v.write(ctx, func(st *state) error {
		cur, ok := st.wallets[w.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if !w.IsDeleted() && activeCodeTaken(st, w.Code, w.ID) {
			return repository.ErrDuplicate
		}
		next := *w
		next.OpeningBalance = cur.OpeningBalance
		next.BalanceVersion = cur.BalanceVersion
		st.wallets[w.ID] = next
		return nil
	})
}

func (r *walletRepo) SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error {
	return r.v.write(ctx, func(st *state) error {
		w, ok := st.wallets[id]
		if !ok {
			return repository.ErrNotFound
		}
		if deletedAt == nil && activeCodeTaken(st, w.Code, id) {
			return repository.ErrDuplicate
		}
		w.DeletedAt = deletedAt
		if deletedAt != nil {
			w.UpdatedAt = *deletedAt
		} else {
			w.UpdatedAt = time.Now().UTC()
		}
		st.wallets[id] = w
		return nil
	})
}

func (r *walletRepo) BumpBalanceVersion(ctx context.Context, ids ...uuid.UUID) error {
	return r.v.write(ctx, func(st *state) error {
		for _, id := range ids {
			w, ok := st.wallets[id]
			if !ok {
				return repository.ErrNotFound
			}
			w.BalanceVersion++
			st.wallets[id] = w
		}
		return nil
	})
}

func (r *walletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var out *models.Wallet
	err := r.v.read(ctx, func(st *state) error {
		w, ok := st.wallets[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *walletRepo) ExistsActiveCode(ctx context.Context, code string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := r.v.read(ctx, func(st *state) error {
		taken = activeCodeTaken(st, code, exclude)
		return nil
	})
	return taken, err
}

func (r *walletRepo) List(ctx context.Context, filter models.WalletFilter) ([]models.Wallet, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []models.Wallet
	err := r.v.read(ctx, func(st *state) error {
		for _, w := range st.wallets {
			if !filter.IncludeDeleted && w.IsDeleted() {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(w.Name), search) &&
				!strings.Contains(strings.ToLower(w.Code), search) {
				continue
			}
			out = append(out, w)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

type entryRepo struct{ v *view }

func (r *entryRepo) Create(ctx context.Context, e *models.Entry) error {
	return r.v.write(ctx, func(st *state) error {
		if _, ok := st.entries[e.ID]; ok {
			return repository.ErrDuplicate
		}
		for _, other := range st.entries {
			if other.Code == e.Code {
				return repository.ErrDuplicate
			}
		}
		st.entries[e.ID] = *e
		return nil
	})
}

func (r *entryRepo) Update(ctx context.Context, e *models.Entry) error {
	return r.v.write(ctx, func(st *state) error {
		if _, ok := st.entries[e.ID]; !ok {
			return repository.ErrNotFound
		}
		st.entries[e.ID] = *e
		return nil
	})
}

func (r *entryRepo) SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error {
	return r.v.write(ctx, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return repository.ErrNotFound
		}
		e.DeletedAt = deletedAt
		if deletedAt != nil {
			e.UpdatedAt = *deletedAt
		} else {
			e.UpdatedAt = time.Now().UTC()
		}
		st.entries[id] = e
		return nil
	})
}

func (r *entryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	var out *models.Entry
	err := r.v.read(ctx, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *entryRepo) List(ctx context.Context, filter models.EntryFilter) ([]models.Entry, error) {
	var out []models.Entry
	err := r.v.read(ctx, func(st *state) error {
		for _, e := range st.entries {
			if filter.Matches(&e) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Code > out[j].Code
	})
	return out, err
}

func (r *entryRepo) ListActive(ctx context.Context, q repository.ActiveEntryQuery) ([]models.Entry, error) {
	filter := models.EntryFilter{From: q.From, To: q.To, WalletID: q.WalletID}
	var out []models.Entry
	err := r.v.read(ctx, func(st *state) error {
		for _, e := range st.entries {
			if filter.Matches(&e) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Code < out[j].Code
	})
	return out, err
}

func (r *entryRepo) CountActiveByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var n int64
	err := r.v.read(ctx, func(st *state) error {
		for _, e := range st.entries {
			if !e.IsDeleted() && e.Touches(walletID) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *entryRepo) NextCode(ctx context.Context, kind models.EntryKind) (string, error) {
	var code string
	err := r.v.write(ctx, func(st *state) error {
		st.counters[kind]++
		code = repository.FormatCode(kind, st.counters[kind])
		return nil
	})
	return code, err
}

type categoryRepo struct{ v *view }

func (r *categoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var out *models.Category
	err := r.v.read(ctx, func(st *state) error {
		c, ok := st.categories[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

type auditRepo struct{ v *view }

func (r *auditRepo) Append(ctx context.Context, rec *models.AuditRecord) error {
	return r.v.write(ctx, func(st *state) error {
		st.audit = append(st.audit, *rec)
		return nil
	})
}

func (r *auditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	var out *models.AuditRecord
	err := r.v.read(ctx, func(st *state) error {
		for i := range st.audit {
			if st.audit[i].ID == id {
				rec := st.audit[i]
				out = &rec
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *auditRepo) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, int64, error) {
	q := strings.ToLower(strings.TrimSpace(filter.Q))
	var matched []models.AuditRecord
	err := r.v.read(ctx, func(st *state) error {
		// newest first; records are appended in commit order
		for i := len(st.audit) - 1; i >= 0; i-- {
			rec := st.audit[i]
			if filter.Entity != "" && rec.Entity != filter.Entity {
				continue
			}
			if filter.Action != "" && rec.Action != filter.Action {
				continue
			}
			if filter.From != nil && rec.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && rec.CreatedAt.After(*filter.To) {
				continue
			}
			if q != "" &&
				!strings.Contains(strings.ToLower(rec.EntityID), q) &&
				!strings.Contains(strings.ToLower(rec.ByUserEmail), q) &&
				!strings.Contains(strings.ToLower(rec.ByUserID), q) {
				continue
			}
			matched = append(matched, rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start < 0 || start >= len(matched) {
		return []models.AuditRecord{}, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
