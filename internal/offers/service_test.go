package offers

import (
	"context"
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

type mockOfferStore struct {
	mu     sync.Mutex
	offers map[uuid.UUID]*models.Offer
}

func newMockOfferStore(os ...*models.Offer) *mockOfferStore {
	m := &mockOfferStore{offers: make(map[uuid.UUID]*models.Offer)}
	for _, o := range os {
		cp := *o
		m.offers[o.ID] = &cp
	}
	return m
}

func (m *mockOfferStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockOfferStore) Create(_ context.Context, _ pgx.Tx, o *models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *mockOfferStore) GetByID(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, apperr.NotFound("offer not found")
	}
	cp := *o
	return &cp, nil
}

func (m *mockOfferStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return m.GetByID(ctx, id)
}

func (m *mockOfferStore) HasOpenOffer(_ context.Context, _ pgx.Tx, jobID, technicianID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.JobID == jobID && o.TechnicianID == technicianID && o.Status == models.OfferStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockOfferStore) MarkAccepted(_ context.Context, _ pgx.Tx, offerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok || o.Status != models.OfferStatusPending {
		return false, nil
	}
	o.Status = models.OfferStatusAccepted
	return true, nil
}

func (m *mockOfferStore) ExpireSiblings(_ context.Context, _ pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.offers {
		if o.JobID == jobID && o.ID != acceptedID && o.Status == models.OfferStatusPending {
			o.Status = models.OfferStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *mockOfferStore) UpdateStatus(_ context.Context, _ pgx.Tx, offerID uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *mockOfferStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.offers {
		if o.Status == models.OfferStatusPending && !now.Before(o.ExpiresAt) {
			o.Status = models.OfferStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *mockOfferStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Offer
	for _, o := range m.offers {
		if o.JobID == jobID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockOfferStore) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers[id].Status
}

// --- mockJobSource backs the read/lock side of the engine. ---

type mockJobSource struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job

	// onLock fires when a caller takes the job row lock, standing in for
	// whatever a competing transaction committed first.
	onLock func()
}

func newMockJobSource(js ...*models.Job) *mockJobSource {
	m := &mockJobSource{jobs: make(map[uuid.UUID]*models.Job)}
	for _, j := range js {
		cp := *j
		m.jobs[j.ID] = &cp
	}
	return m
}

func (m *mockJobSource) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job not found")
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobSource) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Job, error) {
	if m.onLock != nil {
		m.onLock()
	}
	return m.GetByID(ctx, id)
}

func (m *mockJobSource) IncrementOffers(_ context.Context, _ pgx.Tx, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].OffersCount++
	return nil
}

func (m *mockJobSource) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = status
}

// --- mockLifecycle records the assignment the engine drives. ---

type mockLifecycle struct {
	jobs *mockJobSource

	assigned       bool
	paymentPending bool
	assignedTech   uuid.UUID
	finalPrice     decimal.Decimal
}

func (m *mockLifecycle) Assign(_ context.Context, _ pgx.Tx, job *models.Job, technicianID, companyID uuid.UUID, finalPrice decimal.Decimal) error {
	if job.Status != models.JobStatusWaitingOffers {
		return apperr.InvalidState("job is not accepting offers")
	}
	m.assigned = true
	m.assignedTech = technicianID
	m.finalPrice = finalPrice
	m.jobs.setStatus(job.ID, models.JobStatusAssigned)
	return nil
}

func (m *mockLifecycle) MarkPaymentPending(_ context.Context, _ pgx.Tx, jobID uuid.UUID, _ decimal.Decimal, _ time.Time) error {
	m.paymentPending = true
	m.jobs.setStatus(jobID, models.JobStatusPaymentPending)
	return nil
}

// --- mockLinker returns a canned payment link. ---

type mockLinker struct {
	created int
}

func (m *mockLinker) CreatePaymentLink(_ context.Context, _ pgx.Tx, job *models.Job, offer *models.Offer) (*models.PaymentLink, error) {
	m.created++
	fee := offer.Amount.Mul(decimal.RequireFromString("0.10")).Round(2)
	vat := offer.Amount.Add(fee).Mul(decimal.RequireFromString("0.15")).Round(2)
	return &models.PaymentLink{
		ID:           uuid.New(),
		JobID:        job.ID,
		CustomerID:   job.CustomerID,
		TechnicianID: offer.TechnicianID,
		Subtotal:     offer.Amount,
		PlatformFee:  fee,
		VAT:          vat,
		Total:        offer.Amount.Add(fee).Add(vat),
		PaymentURL:   "https://pay.example.com/p/tok",
		Token:        "tok",
		Status:       models.PaymentStatusPending,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}, nil
}

// --- mockTechs holds technician eligibility. ---

type mockTechs struct {
	techs   map[uuid.UUID]*models.Technician
	skilled map[uuid.UUID]bool
}

func (m *mockTechs) GetTechnician(_ context.Context, id uuid.UUID) (*models.Technician, error) {
	t, ok := m.techs[id]
	if !ok {
		return nil, apperr.NotFound("technician not found")
	}
	return t, nil
}

func (m *mockTechs) HasVerifiedSkill(_ context.Context, technicianID uuid.UUID, _ int) (bool, error) {
	return m.skilled[technicianID], nil
}

func (m *mockTechs) TechnicianUserID(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	return id, nil
}

func (m *mockTechs) CustomerUserID(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	return id, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc       *Service
	store     *mockOfferStore
	jobs      *mockJobSource
	life      *mockLifecycle
	linker    *mockLinker
	techs     *mockTechs
	job       *models.Job
	techID    uuid.UUID
	companyID uuid.UUID
}

func newFixture(t *testing.T, offers ...*models.Offer) *fixture {
	t.Helper()
	window := time.Now().Add(10 * time.Minute)
	job := &models.Job{
		ID:                   uuid.New(),
		JobNumber:            "JOB-260901-00042",
		CustomerID:           uuid.New(),
		CategoryID:           3,
		Title:                "Replace water heater",
		Status:               models.JobStatusWaitingOffers,
		OfferWindowExpiresAt: &window,
	}
	techID, companyID := uuid.New(), uuid.New()
	for _, o := range offers {
		o.JobID = job.ID
		if o.ExpiresAt.IsZero() {
			o.ExpiresAt = window
		}
	}
	f := &fixture{
		store: newMockOfferStore(offers...),
		jobs:  newMockJobSource(job),
		techs: &mockTechs{
			techs: map[uuid.UUID]*models.Technician{
				techID: {ID: techID, UserID: uuid.New(), CompanyID: companyID, Status: models.TechStatusActive},
			},
			skilled: map[uuid.UUID]bool{techID: true},
		},
		linker:    &mockLinker{},
		job:       job,
		techID:    techID,
		companyID: companyID,
	}
	f.life = &mockLifecycle{jobs: f.jobs}
	f.svc = NewService(f.store, f.jobs, f.life, f.linker, f.techs, notify.Discard, slog.Default())
	return f
}

func pendingOffer(techID uuid.UUID, amount string) *models.Offer {
	return &models.Offer{
		ID:           uuid.New(),
		TechnicianID: techID,
		Amount:       decimal.RequireFromString(amount),
		Status:       models.OfferStatusPending,
	}
}

// =====================================================================
// Submit
// =====================================================================

func TestSubmit_RecordsBidAndCountsIt(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("180.00"), nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != models.OfferStatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if !o.ExpiresAt.Equal(*f.job.OfferWindowExpiresAt) {
		t.Error("offer expiry not pinned to the job's offer window")
	}
	j, _ := f.jobs.GetByID(context.Background(), f.job.ID)
	if j.OffersCount != 1 {
		t.Errorf("offers_count = %d, want 1", j.OffersCount)
	}
}

func TestSubmit_AmountValidation(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5", "10.123"} {
		if _, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString(amount), nil, nil); !apperr.Is(err, apperr.CodeValidation) {
			t.Errorf("amount %s: expected Validation, got %v", amount, err)
		}
	}
}

func TestSubmit_InactiveTechnician(t *testing.T) {
	f := newFixture(t)
	f.techs.techs[f.techID].Status = models.TechStatusSuspended

	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestSubmit_JobNotOpen(t *testing.T) {
	f := newFixture(t)
	f.jobs.setStatus(f.job.ID, models.JobStatusAssigned)

	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestSubmit_WindowClosed(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Second)
	f.jobs.mu.Lock()
	f.jobs.jobs[f.job.ID].OfferWindowExpiresAt = &past
	f.jobs.mu.Unlock()

	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if !apperr.Is(err, apperr.CodeExpiredWindow) {
		t.Fatalf("expected ExpiredWindow, got %v", err)
	}
}

func TestSubmit_NoVerifiedSkill(t *testing.T) {
	f := newFixture(t)
	f.techs.skilled[f.techID] = false

	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestSubmit_DuplicatePendingOffer(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("90"), nil, nil)
	if !apperr.Is(err, apperr.CodeDuplicateOffer) {
		t.Fatalf("expected DuplicateOffer, got %v", err)
	}
}

func TestSubmit_RacingDuplicateCaughtUnderJobLock(t *testing.T) {
	f := newFixture(t)

	// A second request from the same technician commits its offer while this
	// one is waiting on the job row lock. The duplicate check runs after the
	// lock is acquired, so it must see the rival and refuse.
	var raced bool
	f.jobs.onLock = func() {
		if raced {
			return
		}
		raced = true
		rival := pendingOffer(f.techID, "95.00")
		rival.JobID = f.job.ID
		f.store.Create(context.Background(), noopTx{}, rival)
	}

	_, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if !apperr.Is(err, apperr.CodeDuplicateOffer) {
		t.Fatalf("expected DuplicateOffer, got %v", err)
	}
}

func TestSubmit_AfterWithdrawAllowed(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("100"), nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.svc.Withdraw(context.Background(), first.ID, f.techID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), f.job.ID, f.techID, decimal.RequireFromString("95"), nil, nil); err != nil {
		t.Fatalf("re-Submit after withdraw: %v", err)
	}
}

// =====================================================================
// Accept
// =====================================================================

func TestAccept_WinsAndExpiresSiblings(t *testing.T) {
	winner := pendingOffer(uuid.Nil, "120.00")
	loser := pendingOffer(uuid.New(), "110.00")
	f := newFixture(t, winner, loser)
	winner.TechnicianID = f.techID
	f.store.mu.Lock()
	f.store.offers[winner.ID].TechnicianID = f.techID
	f.store.mu.Unlock()

	res, err := f.svc.Accept(context.Background(), winner.ID, f.job.CustomerID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Offer.Status != models.OfferStatusAccepted {
		t.Errorf("winner status = %s, want accepted", res.Offer.Status)
	}
	if f.store.status(loser.ID) != models.OfferStatusExpired {
		t.Errorf("sibling status = %s, want expired", f.store.status(loser.ID))
	}
	if !f.life.assigned || f.life.assignedTech != f.techID {
		t.Error("job not assigned to the winning technician")
	}
	if !f.life.finalPrice.Equal(decimal.RequireFromString("120.00")) {
		t.Errorf("final price = %s, want 120.00", f.life.finalPrice)
	}
	if f.linker.created != 1 {
		t.Errorf("payment links created = %d, want 1", f.linker.created)
	}
	if !f.life.paymentPending {
		t.Error("job not moved to payment_pending")
	}
	if res.PaymentURL == "" || res.Token == "" {
		t.Error("accept result missing payment link details")
	}
}

func TestAccept_WrongCustomer(t *testing.T) {
	o := pendingOffer(uuid.New(), "120.00")
	f := newFixture(t, o)

	_, err := f.svc.Accept(context.Background(), o.ID, uuid.New())
	if !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestAccept_ConcurrentlyResolvedJob(t *testing.T) {
	o := pendingOffer(uuid.New(), "120.00")
	f := newFixture(t, o)

	for _, status := range []string{
		models.JobStatusAssigned, models.JobStatusPaymentPending, models.JobStatusOffersExpired,
	} {
		f.jobs.setStatus(f.job.ID, status)
		if _, err := f.svc.Accept(context.Background(), o.ID, f.job.CustomerID); !apperr.Is(err, apperr.CodeStateConflict) {
			t.Errorf("job %s: expected StateConflict, got %v", status, err)
		}
	}
}

func TestAccept_OfferNoLongerPending(t *testing.T) {
	o := pendingOffer(uuid.New(), "120.00")
	o.Status = models.OfferStatusWithdrawn
	f := newFixture(t, o)

	_, err := f.svc.Accept(context.Background(), o.ID, f.job.CustomerID)
	if !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestAccept_SecondAcceptLoses(t *testing.T) {
	first := pendingOffer(uuid.Nil, "120.00")
	second := pendingOffer(uuid.New(), "110.00")
	f := newFixture(t, first, second)
	f.store.mu.Lock()
	f.store.offers[first.ID].TechnicianID = f.techID
	f.store.mu.Unlock()

	if _, err := f.svc.Accept(context.Background(), first.ID, f.job.CustomerID); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	_, err := f.svc.Accept(context.Background(), second.ID, f.job.CustomerID)
	if !apperr.Is(err, apperr.CodeStateConflict) {
		t.Fatalf("expected StateConflict, got %v", err)
	}
}

// =====================================================================
// Reject, Withdraw, sweep
// =====================================================================

func TestReject_ByJobOwner(t *testing.T) {
	o := pendingOffer(uuid.New(), "100")
	f := newFixture(t, o)

	if err := f.svc.Reject(context.Background(), o.ID, f.job.CustomerID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if f.store.status(o.ID) != models.OfferStatusRejected {
		t.Errorf("status = %s, want rejected", f.store.status(o.ID))
	}
}

func TestReject_WrongCustomer(t *testing.T) {
	o := pendingOffer(uuid.New(), "100")
	f := newFixture(t, o)

	if err := f.svc.Reject(context.Background(), o.ID, uuid.New()); !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestWithdraw_WrongTechnician(t *testing.T) {
	o := pendingOffer(uuid.New(), "100")
	f := newFixture(t, o)

	if err := f.svc.Withdraw(context.Background(), o.ID, uuid.New()); !apperr.Is(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestWithdraw_NotPending(t *testing.T) {
	o := pendingOffer(uuid.New(), "100")
	o.Status = models.OfferStatusExpired
	f := newFixture(t, o)

	if err := f.svc.Withdraw(context.Background(), o.ID, o.TechnicianID); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestExpireSweep_OnlyDuePending(t *testing.T) {
	due := pendingOffer(uuid.New(), "100")
	due.ExpiresAt = time.Now().Add(-time.Minute)
	live := pendingOffer(uuid.New(), "90")
	live.ExpiresAt = time.Now().Add(time.Minute)
	f := newFixture(t, due, live)

	if err := f.svc.ExpireSweep(context.Background()); err != nil {
		t.Fatalf("ExpireSweep: %v", err)
	}
	if f.store.status(due.ID) != models.OfferStatusExpired {
		t.Error("due offer not expired")
	}
	if f.store.status(live.ID) != models.OfferStatusPending {
		t.Error("live offer expired early")
	}
	// Second run is a no-op.
	if err := f.svc.ExpireSweep(context.Background()); err != nil {
		t.Fatalf("second ExpireSweep: %v", err)
	}
}
