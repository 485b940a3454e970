package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const dayLayout = "2006-01-02"

type CashflowUsecase interface {
	Summarize(ctx context.Context, q models.CashflowQuery) (*models.CashflowSummary, error)
	ExportXLSX(ctx context.Context, q models.CashflowQuery) ([]byte, error)
}

// CashflowReporter aggregates non-deleted entries over an inclusive date range.
type CashflowReporter struct {
	store      repository.Store
	log        logger.Logger
	location   *time.Location
	minorUnits int32
	timeout    time.Duration
}

// ReportOptions fixes how reports bucket and render amounts.
type ReportOptions struct {
	// Location decides which calendar day an entry falls on. Nil means UTC.
	Location   *time.Location
	MinorUnits int32
	// Timeout bounds a single report; zero means no bound beyond ctx.
	Timeout time.Duration
}

func NewCashflowReporter(store repository.Store, opts ReportOptions, log logger.Logger) *CashflowReporter {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &CashflowReporter{
		store:      store,
		log:        log,
		location:   loc,
		minorUnits: opts.MinorUnits,
		timeout:    opts.Timeout,
	}
}

func (r *CashflowReporter) Location() *time.Location {
	return r.location
}

// Summarize returns nothing but the error when ctx is cancelled or the
// report timeout expires mid-computation.
func (r *CashflowReporter) Summarize(ctx context.Context, q models.CashflowQuery) (*models.CashflowSummary, error) {
	if q.From.IsZero() {
		return nil, invalid("from", "is required")
	}
	if q.To.IsZero() {
		return nil, invalid("to", "is required")
	}
	if q.From.After(q.To) {
		return nil, invalid("from", "must not be after to")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	summary, err := r.summarize(ctx, q)
	reportDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.log.Warn("Cashflow report cancelled",
				logger.DurationField("elapsed", time.Since(started)),
				logger.ErrorField("error", ctxErr))
			return nil, ctxErr
		}
		return nil, err
	}

	r.log.Debug("Cashflow report computed",
		logger.StringField("from", q.From.Format(time.RFC3339)),
		logger.StringField("to", q.To.Format(time.RFC3339)),
		logger.IntField("wallets", len(summary.ByWallet)),
		logger.DurationField("elapsed", time.Since(started)))
	return summary, nil
}

func (r *CashflowReporter) summarize(ctx context.Context, q models.CashflowQuery) (*models.CashflowSummary, error) {
	repos := r.store.Repos()

	var (
		wallets []models.Wallet
		entries []models.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if q.WalletID != nil {
			w, err := repos.Wallets.GetByID(gctx, *q.WalletID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrWalletNotFound, *q.WalletID)
			}
			if err != nil {
				return storageFailure("get wallet", err)
			}
			wallets = []models.Wallet{*w}
			return nil
		}
		var err error
		wallets, err = repos.Wallets.List(gctx, models.WalletFilter{IncludeDeleted: true})
		if err != nil {
			return storageFailure("list wallets", err)
		}
		return nil
	})
	g.Go(func() error {
		from, to := q.From, q.To
		var err error
		entries, err = repos.Entries.ListActive(gctx, repository.ActiveEntryQuery{WalletID: q.WalletID, From: &from, To: &to})
		if err != nil {
			return storageFailure("list entries", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg := newCashflowAggregator(wallets, r.location)
	for i := range entries {
		if i%foldCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := agg.add(&entries[i]); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return agg.summary(q, q.WalletID != nil)
}

// cashflowAggregator accumulates per-wallet and per-day totals for wallets in
// scope. Effects on wallets outside the scope are ignored.
type cashflowAggregator struct {
	loc     *time.Location
	rows    map[uuid.UUID]*models.WalletCashflow
	order   []models.Wallet
	touched map[uuid.UUID]bool
	days    map[string]*models.DailyCashflow
	err     error
}

func newCashflowAggregator(wallets []models.Wallet, loc *time.Location) *cashflowAggregator {
	a := &cashflowAggregator{
		loc:     loc,
		rows:    make(map[uuid.UUID]*models.WalletCashflow, len(wallets)),
		order:   wallets,
		touched: make(map[uuid.UUID]bool),
		days:    make(map[string]*models.DailyCashflow),
	}
	for _, w := range wallets {
		a.rows[w.ID] = &models.WalletCashflow{WalletID: w.ID, WalletCode: w.Code, WalletName: w.Name}
	}
	return a
}

// sum adds v into dst, keeping the first overflow.
func (a *cashflowAggregator) sum(dst *models.Money, v models.Money) {
	if a.err != nil {
		return
	}
	s, err := dst.Add(v)
	if err != nil {
		a.err = err
		return
	}
	*dst = s
}

func (a *cashflowAggregator) day(e *models.Entry) *models.DailyCashflow {
	key := e.Date.In(a.loc).Format(dayLayout)
	d, ok := a.days[key]
	if !ok {
		d = &models.DailyCashflow{Date: key}
		a.days[key] = d
	}
	return d
}

func (a *cashflowAggregator) row(id uuid.UUID) *models.WalletCashflow {
	row, ok := a.rows[id]
	if ok {
		a.touched[id] = true
	}
	return row
}

func (a *cashflowAggregator) add(e *models.Entry) error {
	if e.IsDeleted() {
		return nil
	}

	switch d := e.Details.(type) {
	case models.IncomeDetails:
		if row := a.row(d.WalletID); row != nil {
			a.sum(&row.IncomeTotal, e.Amount)
			a.sum(&a.day(e).InTotal, e.Amount)
		}
	case models.ExpenseDetails:
		if row := a.row(d.WalletID); row != nil {
			a.sum(&row.ExpenseTotal, e.Amount)
			a.sum(&a.day(e).OutTotal, e.Amount)
		}
	case models.TransferDetails:
		if row := a.row(d.WalletID); row != nil {
			out, err := e.Amount.Add(d.Fee)
			if err != nil {
				return err
			}
			a.sum(&row.TransferOutTotal, out)
			a.sum(&row.TransferFeeTotal, d.Fee)
			a.sum(&a.day(e).OutTotal, out)
		}
		if row := a.row(d.WalletToID); row != nil {
			a.sum(&row.TransferInTotal, e.Amount)
			a.sum(&a.day(e).InTotal, e.Amount)
		}
	case models.AdjustmentDetails:
		if row := a.row(d.WalletID); row != nil {
			a.sum(&row.AdjustmentTotal, e.Amount)
			if e.Amount.IsNegative() {
				abs, err := e.Amount.Abs()
				if err != nil {
					return err
				}
				a.sum(&a.day(e).OutTotal, abs)
			} else {
				a.sum(&a.day(e).InTotal, e.Amount)
			}
		}
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownEntryKind, e.Details)
	}
	return a.err
}

func netChange(income, expense, transferIn, transferOut, adjustment models.Money) (models.Money, error) {
	net, err := income.Sub(expense)
	if err != nil {
		return 0, err
	}
	if net, err = net.Add(transferIn); err != nil {
		return 0, err
	}
	if net, err = net.Sub(transferOut); err != nil {
		return 0, err
	}
	return net.Add(adjustment)
}

// summary lists active wallets and deleted wallets with activity in range,
// ordered by code. A filtered wallet is always listed.
func (a *cashflowAggregator) summary(q models.CashflowQuery, filtered bool) (*models.CashflowSummary, error) {
	out := &models.CashflowSummary{
		From:     q.From,
		To:       q.To,
		ByWallet: make([]models.WalletCashflow, 0, len(a.order)),
		Series:   make([]models.DailyCashflow, 0, len(a.days)),
	}

	wallets := make([]models.Wallet, len(a.order))
	copy(wallets, a.order)
	sort.SliceStable(wallets, func(i, j int) bool {
		if wallets[i].Code != wallets[j].Code {
			return wallets[i].Code < wallets[j].Code
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})

	t := &out.Totals
	for _, w := range wallets {
		if !filtered && w.IsDeleted() && !a.touched[w.ID] {
			continue
		}
		row := *a.rows[w.ID]
		net, err := netChange(row.IncomeTotal, row.ExpenseTotal, row.TransferInTotal, row.TransferOutTotal, row.AdjustmentTotal)
		if err != nil {
			return nil, err
		}
		row.NetChange = net
		out.ByWallet = append(out.ByWallet, row)

		a.sum(&t.IncomeTotal, row.IncomeTotal)
		a.sum(&t.ExpenseTotal, row.ExpenseTotal)
		a.sum(&t.TransferInTotal, row.TransferInTotal)
		a.sum(&t.TransferOutTotal, row.TransferOutTotal)
		a.sum(&t.TransferFeeTotal, row.TransferFeeTotal)
		a.sum(&t.AdjustmentTotal, row.AdjustmentTotal)
		a.sum(&t.NetChange, row.NetChange)
	}
	if a.err != nil {
		return nil, a.err
	}

	for _, d := range a.days {
		net, err := d.InTotal.Sub(d.OutTotal)
		if err != nil {
			return nil, err
		}
		d.Net = net
		out.Series = append(out.Series, *d)
	}
	sort.Slice(out.Series, func(i, j int) bool { return out.Series[i].Date < out.Series[j].Date })

	return out, nil
}
