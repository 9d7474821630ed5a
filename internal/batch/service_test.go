package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
	"github.com/hmapp/backend/internal/notify"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockBatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*models.CompanyBatch
	seq     int
}

func newMockBatchStore(bs ...*models.CompanyBatch) *mockBatchStore {
	m := &mockBatchStore{batches: make(map[uuid.UUID]*models.CompanyBatch)}
	for _, b := range bs {
		cp := *b
		m.batches[b.ID] = &cp
	}
	return m
}

func (m *mockBatchStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockBatchStore) GetByID(_ context.Context, id uuid.UUID) (*models.CompanyBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, apperr.NotFound("batch not found")
	}
	cp := *b
	return &cp, nil
}

func (m *mockBatchStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.CompanyBatch, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBatchStore) GetActiveForUpdate(_ context.Context, _ pgx.Tx, companyID, technicianID uuid.UUID) (*models.CompanyBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.CompanyID == companyID && b.TechnicianID == technicianID && b.Status == models.BatchStatusActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockBatchStore) Create(_ context.Context, _ pgx.Tx, b *models.CompanyBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	b.BatchNumber = fmt.Sprintf("BAT-260901-%05d", m.seq)
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchStore) Update(_ context.Context, _ pgx.Tx, b *models.CompanyBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchStore) MarkCompleted(_ context.Context, _ pgx.Tx, batchID uuid.UUID, reference string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok || b.Status != models.BatchStatusReady || !b.CanWithdraw {
		return false, nil
	}
	b.Status = models.BatchStatusCompleted
	b.CanWithdraw = false
	b.WithdrawalReference = &reference
	b.WithdrawnAt = &at
	return true, nil
}

func (m *mockBatchStore) ListByCompany(_ context.Context, companyID uuid.UUID, limit int) ([]*models.CompanyBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CompanyBatch
	for _, b := range m.batches {
		if b.CompanyID == companyID {
			cp := *b
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockBatchStore) activeFor(companyID, technicianID uuid.UUID) *models.CompanyBatch {
	b, _ := m.GetActiveForUpdate(context.Background(), noopTx{}, companyID, technicianID)
	return b
}

type mockCompanies struct {
	companies map[uuid.UUID]*models.Company
}

func (m *mockCompanies) GetCompany(_ context.Context, id uuid.UUID) (*models.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, apperr.NotFound("company not found")
	}
	return c, nil
}

type ledgerCredit struct {
	OwnerType string
	OwnerID   uuid.UUID
	Amount    decimal.Decimal
	TxType    string
	BatchID   *uuid.UUID
}

type mockLedger struct {
	mu      sync.Mutex
	credits []ledgerCredit
}

func (m *mockLedger) CreditOwner(_ context.Context, _ pgx.Tx, ownerType string, ownerID uuid.UUID, amount decimal.Decimal, txType string, _, batchID *uuid.UUID) (*models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, ledgerCredit{OwnerType: ownerType, OwnerID: ownerID, Amount: amount, TxType: txType, BatchID: batchID})
	return &models.WalletTransaction{ID: uuid.New(), Amount: amount, Type: txType}, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc     *Service
	store   *mockBatchStore
	ledger  *mockLedger
	company *models.Company
	techID  uuid.UUID
	ownerID uuid.UUID
}

func newFixture(t *testing.T, batches ...*models.CompanyBatch) *fixture {
	t.Helper()
	ownerID := uuid.New()
	company := &models.Company{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Name:           "Acme Maintenance",
		BatchSize:      3,
		CommissionRate: decimal.RequireFromString("0.30"),
		Status:         models.CompanyStatusActive,
	}
	techID := uuid.New()
	for _, b := range batches {
		b.CompanyID = company.ID
		b.TechnicianID = techID
	}
	f := &fixture{
		store:   newMockBatchStore(batches...),
		ledger:  &mockLedger{},
		company: company,
		techID:  techID,
		ownerID: ownerID,
	}
	companies := &mockCompanies{companies: map[uuid.UUID]*models.Company{company.ID: company}}
	f.svc = NewService(f.store, companies, f.ledger, notify.Discard, 10, slog.Default())
	return f
}

func (f *fixture) completedJob(price string) *models.Job {
	p := decimal.RequireFromString(price)
	return &models.Job{
		ID:           uuid.New(),
		CustomerID:   uuid.New(),
		TechnicianID: &f.techID,
		CompanyID:    &f.company.ID,
		FinalPrice:   &p,
		Status:       models.JobStatusCompleted,
	}
}

// =====================================================================
// OnJobCompleted
// =====================================================================

func TestOnJobCompleted_OpensBatchAndAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.OnJobCompleted(context.Background(), noopTx{}, f.completedJob("200.00")); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	b := f.store.activeFor(f.company.ID, f.techID)
	if b == nil {
		t.Fatal("no active batch opened")
	}
	if b.JobsCompleted != 1 {
		t.Errorf("jobs_completed = %d, want 1", b.JobsCompleted)
	}
	if !b.TotalRevenue.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("total_revenue = %s, want 200.00", b.TotalRevenue)
	}
	if !b.CompanyShare.Equal(decimal.RequireFromString("60.00")) {
		t.Errorf("company_share = %s, want 60.00", b.CompanyShare)
	}
	if b.TargetJobs != f.company.BatchSize {
		t.Errorf("target_jobs = %d, want company batch size %d", b.TargetJobs, f.company.BatchSize)
	}
	if b.CanWithdraw {
		t.Error("batch withdrawable before reaching its target")
	}
}

func TestOnJobCompleted_BecomesReadyAtTarget(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < f.company.BatchSize; i++ {
		if err := f.svc.OnJobCompleted(context.Background(), noopTx{}, f.completedJob("100.00")); err != nil {
			t.Fatalf("job %d: %v", i+1, err)
		}
	}
	var ready *models.CompanyBatch
	for _, b := range f.store.batches {
		if b.Status == models.BatchStatusReady {
			ready = b
		}
	}
	if ready == nil {
		t.Fatal("no batch reached ready")
	}
	if !ready.CanWithdraw {
		t.Error("ready batch not withdrawable")
	}
	if ready.JobsCompleted != f.company.BatchSize {
		t.Errorf("jobs_completed = %d, want %d", ready.JobsCompleted, f.company.BatchSize)
	}
	if !ready.CompanyShare.Equal(decimal.RequireFromString("90.00")) {
		t.Errorf("company_share = %s, want 90.00", ready.CompanyShare)
	}
}

func TestOnJobCompleted_UnassignedJobRejected(t *testing.T) {
	f := newFixture(t)
	job := f.completedJob("100.00")
	job.TechnicianID = nil

	if err := f.svc.OnJobCompleted(context.Background(), noopTx{}, job); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}

	job = f.completedJob("100.00")
	job.FinalPrice = nil
	if err := f.svc.OnJobCompleted(context.Background(), noopTx{}, job); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("missing final price: expected InvalidState, got %v", err)
	}
}

func TestOnJobCompleted_FallbackBatchTarget(t *testing.T) {
	f := newFixture(t)
	f.company.BatchSize = 0

	if err := f.svc.OnJobCompleted(context.Background(), noopTx{}, f.completedJob("100.00")); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	b := f.store.activeFor(f.company.ID, f.techID)
	if b.TargetJobs != 10 {
		t.Errorf("target_jobs = %d, want service default 10", b.TargetJobs)
	}
}

// =====================================================================
// Withdraw
// =====================================================================

func readyBatch(share string) *models.CompanyBatch {
	return &models.CompanyBatch{
		ID:            uuid.New(),
		BatchNumber:   "BAT-260901-00001",
		JobsCompleted: 3,
		TargetJobs:    3,
		Status:        models.BatchStatusReady,
		TotalRevenue:  decimal.RequireFromString("300.00"),
		CompanyShare:  decimal.RequireFromString(share),
		CanWithdraw:   true,
	}
}

func TestWithdraw_PaysOutOnceAndOpensNextBatch(t *testing.T) {
	b := readyBatch("90.00")
	f := newFixture(t, b)

	got, err := f.svc.Withdraw(context.Background(), b.ID, f.ownerID)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got.Status != models.BatchStatusCompleted || got.CanWithdraw {
		t.Error("withdrawn batch not completed")
	}
	if got.WithdrawalReference == nil || got.WithdrawnAt == nil {
		t.Error("withdrawal reference or timestamp missing")
	}
	if len(f.ledger.credits) != 1 {
		t.Fatalf("credits = %d, want 1", len(f.ledger.credits))
	}
	credit := f.ledger.credits[0]
	if credit.OwnerType != models.WalletOwnerCompany || credit.OwnerID != f.company.ID {
		t.Error("payout not credited to the company wallet")
	}
	if !credit.Amount.Equal(decimal.RequireFromString("90.00")) {
		t.Errorf("payout = %s, want 90.00", credit.Amount)
	}
	if credit.TxType != models.TxTypeBatchWithdrawal {
		t.Errorf("tx type = %s, want batch_withdrawal", credit.TxType)
	}
	if credit.BatchID == nil || *credit.BatchID != b.ID {
		t.Error("payout not referenced to the batch")
	}

	next := f.store.activeFor(f.company.ID, f.techID)
	if next == nil {
		t.Fatal("no fresh batch opened after withdrawal")
	}
	if next.JobsCompleted != 0 || !next.TotalRevenue.IsZero() {
		t.Error("fresh batch not empty")
	}

	// A second withdrawal of the same batch must conflict, not double-pay.
	if _, err := f.svc.Withdraw(context.Background(), b.ID, f.ownerID); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("repeat withdrawal: expected InvalidState, got %v", err)
	}
	if len(f.ledger.credits) != 1 {
		t.Error("repeat withdrawal credited the wallet again")
	}
}

func TestWithdraw_NonOwnerRejected(t *testing.T) {
	b := readyBatch("90.00")
	f := newFixture(t, b)

	_, err := f.svc.Withdraw(context.Background(), b.ID, uuid.New())
	if !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if len(f.ledger.credits) != 0 {
		t.Error("unauthorized withdrawal credited the wallet")
	}
}

func TestWithdraw_ActiveBatchRejected(t *testing.T) {
	b := readyBatch("90.00")
	b.Status = models.BatchStatusActive
	b.CanWithdraw = false
	f := newFixture(t, b)

	_, err := f.svc.Withdraw(context.Background(), b.ID, f.ownerID)
	if !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestWithdraw_ZeroShareSkipsLedger(t *testing.T) {
	b := readyBatch("0")
	f := newFixture(t, b)

	if _, err := f.svc.Withdraw(context.Background(), b.ID, f.ownerID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(f.ledger.credits) != 0 {
		t.Error("zero share produced a ledger credit")
	}
}
