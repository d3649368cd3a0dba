package account

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// store backs every in-memory repository used by the service tests.
type store struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]account.Tenant
	costs   map[uuid.UUID]account.AcctCost
	trans   map[uuid.UUID]account.AcctTrans
	stmts   map[uuid.UUID]account.AcctStmt
	types   map[account.TransTypeName]account.TransType
	tiers   []account.PricingTier

	typeCreates int
}

func newStore() *store {
	s := &store{
		tenants: make(map[uuid.UUID]account.Tenant),
		costs:   make(map[uuid.UUID]account.AcctCost),
		trans:   make(map[uuid.UUID]account.AcctTrans),
		stmts:   make(map[uuid.UUID]account.AcctStmt),
		types:   make(map[account.TransTypeName]account.TransType),
	}
	for _, t := range account.DefaultPricingTiers() {
		t.BaseEntity = shared.NewBaseEntity()
		s.tiers = append(s.tiers, t)
	}
	return s
}

func (s *store) addTenant(name string) *account.Tenant {
	t := account.NewTenant(name, name+"@example.com")
	s.mu.Lock()
	s.tenants[t.ID] = *t
	s.mu.Unlock()
	return t
}

// pricing

type memPricingRepo struct{ s *store }

func (r memPricingRepo) FindTable(_ context.Context, tenantID *uuid.UUID) ([]account.PricingTier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []account.PricingTier
	for _, t := range r.s.tiers {
		switch {
		case tenantID == nil && t.TenantID == nil:
			out = append(out, t)
		case tenantID != nil && t.TenantID != nil && *t.TenantID == *tenantID:
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}

func (r memPricingRepo) FindByID(_ context.Context, id uuid.UUID) (*account.PricingTier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tiers {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memPricingRepo) SaveAll(_ context.Context, tiers []account.PricingTier) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tiers = append(r.s.tiers, tiers...)
	return nil
}

// trans types

type memTransTypeRepo struct{ s *store }

func (r memTransTypeRepo) FindByName(_ context.Context, name account.TransTypeName) (*account.TransType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tt, ok := r.s.types[name]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &tt, nil
}

func (r memTransTypeRepo) Create(_ context.Context, tt *account.TransType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.types[tt.Name]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.types[tt.Name] = *tt
	r.s.typeCreates++
	return nil
}

func (r memTransTypeRepo) List(_ context.Context) ([]*account.TransType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.TransType
	for _, tt := range r.s.types {
		out = append(out, &tt)
	}
	return out, nil
}

// costs

type memCostRepo struct{ s *store }

func (r memCostRepo) FindByTenant(_ context.Context, tenantID uuid.UUID) (*account.AcctCost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.costs[tenantID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &c, nil
}

func (r memCostRepo) Create(_ context.Context, c *account.AcctCost) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.costs[c.TenantID]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.costs[c.TenantID] = *c
	return nil
}

func (r memCostRepo) Update(_ context.Context, c *account.AcctCost) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.costs[c.TenantID]; !ok {
		return shared.ErrNotFound
	}
	r.s.costs[c.TenantID] = *c
	return nil
}

// ledger entries

type memTransRepo struct{ s *store }

func (r memTransRepo) Create(_ context.Context, t *account.AcctTrans) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.trans {
		if e.TenantID == t.TenantID && e.Sequence == t.Sequence {
			return shared.ErrConcurrencyConflict
		}
	}
	r.s.trans[t.ID] = *t
	return nil
}

func (r memTransRepo) Update(_ context.Context, t *account.AcctTrans) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.trans[t.ID]; !ok {
		return shared.ErrNotFound
	}
	r.s.trans[t.ID] = *t
	return nil
}

func (r memTransRepo) Latest(_ context.Context, tenantID uuid.UUID) (*account.AcctTrans, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *account.AcctTrans
	for _, e := range r.s.trans {
		if e.TenantID == tenantID && (latest == nil || e.Sequence > latest.Sequence) {
			e := e
			latest = &e
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	return latest, nil
}

func (r memTransRepo) FindByTypeAndDate(_ context.Context, tenantID, transTypeID uuid.UUID, date time.Time) (*account.AcctTrans, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.trans {
		if e.TenantID == tenantID && e.TransTypeID == transTypeID && e.InsertDate.Equal(date) {
			return &e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memTransRepo) Find(_ context.Context, tenantID uuid.UUID, f account.AcctTransFilter) ([]*account.AcctTrans, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.AcctTrans
	for _, e := range r.s.trans {
		if e.TenantID != tenantID {
			continue
		}
		if f.DateFrom != nil && e.InsertDate.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && !e.InsertDate.Before(*f.DateTo) {
			continue
		}
		if len(f.TransTypeIDs) > 0 && !containsID(f.TransTypeIDs, e.TransTypeID) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.Descending {
			a, b = b, a
		}
		if !a.InsertDate.Equal(b.InsertDate) {
			return a.InsertDate.Before(b.InsertDate)
		}
		return a.Sequence < b.Sequence
	})
	return out, nil
}

func (r memTransRepo) SumAmount(_ context.Context, tenantID *uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range r.s.trans {
		if tenantID == nil || e.TenantID == *tenantID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r memTransRepo) SumAmountBefore(_ context.Context, tenantID uuid.UUID, before time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range r.s.trans {
		if e.TenantID == tenantID && e.InsertDate.Before(before) {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r memTransRepo) SumUnits(_ context.Context, tenantID, transTypeID uuid.UUID, from, to time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.trans {
		if e.TenantID == tenantID && e.TransTypeID == transTypeID &&
			!e.InsertDate.Before(from) && e.InsertDate.Before(to) {
			n += e.UnitsUsed
		}
	}
	return n, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// statements

type memStmtRepo struct{ s *store }

func (r memStmtRepo) FindByPeriod(_ context.Context, tenantID uuid.UUID, year int, month time.Month) (*account.AcctStmt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.stmts {
		if st.TenantID == tenantID && st.Year == year && st.Month == month {
			return &st, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memStmtRepo) Create(_ context.Context, stmt *account.AcctStmt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.stmts {
		if st.TenantID == stmt.TenantID && st.Year == stmt.Year && st.Month == stmt.Month {
			return shared.ErrAlreadyExists
		}
	}
	r.s.stmts[stmt.ID] = *stmt
	return nil
}

func (r memStmtRepo) Update(_ context.Context, stmt *account.AcctStmt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.stmts[stmt.ID] = *stmt
	return nil
}

func (r memStmtRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*account.AcctStmt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.AcctStmt
	for _, st := range r.s.stmts {
		if st.TenantID == tenantID {
			st := st
			out = append(out, &st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period().After(out[j].Period()) })
	return out, nil
}

// tenants

type memTenantRepo struct{ s *store }

func (r memTenantRepo) FindByID(_ context.Context, id uuid.UUID) (*account.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &t, nil
}

func (r memTenantRepo) FindActive(ctx context.Context) ([]*account.Tenant, error) {
	all, _ := r.FindAll(ctx)
	var out []*account.Tenant
	for _, t := range all {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r memTenantRepo) FindAll(_ context.Context) ([]*account.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.Tenant
	for _, t := range r.s.tenants {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memTenantRepo) Save(_ context.Context, t *account.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tenants[t.ID] = *t
	return nil
}

func (r memTenantRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.Active = active
	prev := t.Revision()
	t.Touch()
	if t.Revision() <= prev {
		t.UpdatedAt = time.UnixMicro(prev + 1).UTC()
	}
	r.s.tenants[id] = t
	return nil
}

// collaborators

type mutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *mutexLocker) Lock(_ context.Context, tenantID uuid.UUID) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenantID] = m
	}
	l.mu.Unlock()
	m.Lock()
	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	counts map[string]int64
	err    map[uuid.UUID]error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{counts: make(map[string]int64), err: make(map[uuid.UUID]error)}
}

func eventKey(tenantID uuid.UUID, day time.Time) string {
	return tenantID.String() + day.Format(time.DateOnly)
}

func (f *fakeEvents) set(tenantID uuid.UUID, day time.Time, n int64) {
	f.mu.Lock()
	f.counts[eventKey(tenantID, day)] = n
	f.mu.Unlock()
}

func (f *fakeEvents) fail(tenantID uuid.UUID, err error) {
	f.mu.Lock()
	f.err[tenantID] = err
	f.mu.Unlock()
}

func (f *fakeEvents) CountEvents(_ context.Context, tenantID uuid.UUID, date time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err[tenantID]; err != nil {
		return 0, err
	}
	return f.counts[eventKey(tenantID, date)], nil
}

type fakeGateway struct {
	mu       sync.Mutex
	charges  []ChargeRequest
	attempts []string
	err      error
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = append(g.attempts, req.IdempotencyKey)
	if g.err != nil {
		return nil, g.err
	}
	g.charges = append(g.charges, req)
	return &ChargeReceipt{ChargeID: "ch_" + req.IdempotencyKey, Amount: req.Amount, CapturedAt: time.Now()}, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fakeNotifier struct {
	mu        sync.Mutex
	suspended map[uuid.UUID]string
	stmts     int
}

func (n *fakeNotifier) NotifySuspended(_ context.Context, t *account.Tenant, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.suspended == nil {
		n.suspended = make(map[uuid.UUID]string)
	}
	n.suspended[t.ID] = reason
	return nil
}

func (n *fakeNotifier) NotifyStatementReady(context.Context, *account.Tenant, *account.AcctStmt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stmts++
	return errors.New("smtp unavailable")
}

// fixture wires every service over one in-memory store.
type fixture struct {
	store    *store
	events   *fakeEvents
	gateway  *fakeGateway
	notifier *fakeNotifier
	now      time.Time

	types      *TransTypeCache
	pricing    *PricingService
	ledger     *LedgerService
	usage      *UsageService
	recharge   *RechargeService
	costs      *AcctCostService
	statements *StatementService
	accounts   *AccountService
	tick       *BillingTickService
}

var fixtureNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		store:    newStore(),
		events:   newFakeEvents(),
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		now:      fixtureNow,
	}
	logger := zap.NewNop()
	locker := newMutexLocker()
	transRepo := memTransRepo{f.store}
	costRepo := memCostRepo{f.store}
	stmtRepo := memStmtRepo{f.store}
	tenantRepo := memTenantRepo{f.store}
	scope := NewNoOpLedgerScope(transRepo, costRepo, stmtRepo, tenantRepo)

	f.types = NewTransTypeCache(memTransTypeRepo{f.store}, logger)
	f.pricing = NewPricingService(memPricingRepo{f.store}, logger)
	f.ledger = NewLedgerService(scope, transRepo, f.types, locker, logger, LedgerConfig{
		Clock: func() time.Time { return f.now },
	})
	f.usage = NewUsageService(f.ledger, f.pricing, f.events, transRepo, costRepo, nil, logger)
	f.recharge = NewRechargeService(f.ledger, f.usage, costRepo, tenantRepo, f.gateway, f.notifier, nil, logger, RechargeConfig{})
	f.costs = NewAcctCostService(costRepo, locker, logger)
	f.statements = NewStatementService(f.ledger, transRepo, stmtRepo, decimal.Zero, logger)
	f.accounts = NewAccountService(f.ledger, f.costs, tenantRepo, f.gateway, logger)
	f.tick = NewBillingTickService(tenantRepo, f.ledger, f.usage, f.recharge, f.statements, f.notifier, nil, logger, BillingTickConfig{})
	return f
}

func (f *fixture) today() time.Time {
	return account.DateOf(f.now, nil)
}

func (f *fixture) tenantActive(id uuid.UUID) bool {
	t, _ := memTenantRepo{f.store}.FindByID(context.Background(), id)
	return t.Active
}
