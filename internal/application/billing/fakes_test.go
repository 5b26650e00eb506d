package billing_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles en memoria de los puertos de persistencia
// ──────────────────────────────────────────────────────────────────────────────

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*entity.Invoice
	lines    map[string][]*entity.InvoiceLine
	counters map[string]int64
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{
		invoices: make(map[string]*entity.Invoice),
		lines:    make(map[string][]*entity.InvoiceLine),
		counters: make(map[string]int64),
	}
}

func (r *fakeInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *fakeInvoiceRepo) Update(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *fakeInvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeInvoiceRepo) GetByCDC(_ context.Context, cdc string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.CDC == cdc && cdc != "" {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeInvoiceRepo) CreateLine(_ context.Context, line *entity.InvoiceLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *line
	r.lines[line.InvoiceID] = append(r.lines[line.InvoiceID], &cp)
	return nil
}

func (r *fakeInvoiceRepo) ReplaceLines(_ context.Context, invoiceID string, lines []*entity.InvoiceLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.InvoiceLine, 0, len(lines))
	for _, line := range lines {
		cp := *line
		cp.InvoiceID = invoiceID
		out = append(out, &cp)
	}
	r.lines[invoiceID] = out
	return nil
}

func (r *fakeInvoiceRepo) GetLinesByInvoiceID(_ context.Context, invoiceID string) ([]*entity.InvoiceLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.InvoiceLine, 0, len(r.lines[invoiceID]))
	for _, line := range r.lines[invoiceID] {
		cp := *line
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeInvoiceRepo) NextNumber(_ context.Context, est, punto string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := est + "-" + punto
	r.counters[key]++
	return r.counters[key], nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string][]*entity.SubmissionAttempt
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: make(map[string][]*entity.SubmissionAttempt)}
}

func (r *fakeAttemptRepo) CreateIfNoneAccepted(_ context.Context, attempt *entity.SubmissionAttempt) (bool, *entity.SubmissionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts[attempt.InvoiceID] {
		if a.Outcome == entity.OutcomeAccepted {
			cp := *a
			return false, &cp, nil
		}
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	attempt.Number = len(r.attempts[attempt.InvoiceID]) + 1
	cp := *attempt
	r.attempts[attempt.InvoiceID] = append(r.attempts[attempt.InvoiceID], &cp)
	return true, nil, nil
}

func (r *fakeAttemptRepo) GetAccepted(_ context.Context, invoiceID string) (*entity.SubmissionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts[invoiceID] {
		if a.Outcome == entity.OutcomeAccepted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAttemptRepo) ListByInvoice(_ context.Context, invoiceID string) ([]*entity.SubmissionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.SubmissionAttempt, 0, len(r.attempts[invoiceID]))
	for _, a := range r.attempts[invoiceID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

type fakeQueueRepo struct {
	mu    sync.Mutex
	items []*entity.ContingencyItem
}

func newFakeQueueRepo() *fakeQueueRepo { return &fakeQueueRepo{} }

func (r *fakeQueueRepo) Enqueue(_ context.Context, item *entity.ContingencyItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.InvoiceID == item.InvoiceID && !it.Delivered {
			return domain.ErrDuplicate
		}
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	cp := *item
	r.items = append(r.items, &cp)
	return nil
}

func (r *fakeQueueRepo) ListPending(_ context.Context, limit int) ([]*entity.ContingencyItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ContingencyItem
	for _, it := range r.items {
		if !it.Delivered {
			cp := *it
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) MarkDelivered(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.ID == id {
			it.Delivered = true
			now := time.Now().UTC()
			it.DeliveredAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeQueueRepo) IncrementAttempts(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.ID == id {
			it.Attempts++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeQueueRepo) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if !it.Delivered {
			n++
		}
	}
	return n
}

type fakeClientRepo struct {
	clients map[string]*entity.Client
}

func (r *fakeClientRepo) GetByID(_ context.Context, id string) (*entity.Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type fakeOrderRepo struct {
	orders map[string]*entity.Order
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id string) (*entity.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// fakeTxRunner ejecuta el callback directo contra los fakes, sin transacción.
type fakeTxRunner struct {
	invoices repository.InvoiceRepository
	attempts repository.SubmissionAttemptRepository
	queue    repository.ContingencyQueueRepository
}

func (r *fakeTxRunner) RunBilling(_ context.Context, fn func(
	invoices repository.InvoiceRepository,
	attempts repository.SubmissionAttemptRepository,
	queue repository.ContingencyQueueRepository,
) error) error {
	return fn(r.invoices, r.attempts, r.queue)
}

// ──────────────────────────────────────────────────────────────────────────────
// Doble del cliente SIFEN
// ──────────────────────────────────────────────────────────────────────────────

// scriptedCall una respuesta programada del WS: resultado o error.
type scriptedCall struct {
	res *infrasifen.SubmitResult
	err error
}

type fakeAuthority struct {
	mu          sync.Mutex
	pingErr     error
	script      []scriptedCall // respuestas de Submit, consumidas en orden; la última se repite
	submitCalls int
	statusRes   map[string]*infrasifen.SubmitResult // por CDC
	batchRes    *infrasifen.BatchResult
	batchErr    error
	// batchFn permite decidir el resultado del lote en función de los
	// snapshots recibidos (p.ej. para indexar por CDC real).
	batchFn func(snaps []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error)
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{statusRes: make(map[string]*infrasifen.SubmitResult)}
}

func (a *fakeAuthority) Submit(_ context.Context, _ *infrasifen.DocumentSnapshot) (*infrasifen.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.script) == 0 {
		return nil, fmt.Errorf("fakeAuthority: sin respuestas programadas")
	}
	idx := a.submitCalls
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	a.submitCalls++
	call := a.script[idx]
	return call.res, call.err
}

func (a *fakeAuthority) SubmitBatch(_ context.Context, snaps []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.batchFn != nil {
		res, err := a.batchFn(snaps)
		a.batchRes = res
		return res, err
	}
	return a.batchRes, a.batchErr
}

func (a *fakeAuthority) QueryStatus(_ context.Context, cdc string) (*infrasifen.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.statusRes[cdc]
	if !ok {
		return nil, fmt.Errorf("fakeAuthority: sin estado para CDC %s", cdc)
	}
	return res, nil
}

func (a *fakeAuthority) QueryBatch(_ context.Context, batchID string) (*infrasifen.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.batchRes == nil {
		return nil, fmt.Errorf("fakeAuthority: sin lote %s", batchID)
	}
	return a.batchRes, nil
}

func (a *fakeAuthority) Ping(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pingErr
}

func (a *fakeAuthority) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitCalls
}
