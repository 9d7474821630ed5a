package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mock for Store. Lets us test the real ledger logic without a
// database.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

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

type mockStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
	entries []*models.WalletTransaction
}

func newMockStore(ws ...*models.Wallet) *mockStore {
	m := &mockStore{wallets: make(map[uuid.UUID]*models.Wallet)}
	for _, w := range ws {
		cp := *w
		m.wallets[w.ID] = &cp
	}
	return m
}

func (m *mockStore) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) GetByOwnerForUpdate(_ context.Context, _ pgx.Tx, ownerType string, ownerID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.OwnerType == ownerType && w.OwnerID == ownerID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("wallet of %s %s not found", ownerType, ownerID)
}

func (m *mockStore) Update(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *mockStore) InsertTransaction(_ context.Context, _ pgx.Tx, t *models.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[id].Balance
}

func activeWallet(balance string) *models.Wallet {
	return &models.Wallet{
		ID:        uuid.New(),
		OwnerType: models.WalletOwnerCompany,
		OwnerID:   uuid.New(),
		Balance:   decimal.RequireFromString(balance),
		Currency:  "SAR",
		IsActive:  true,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =====================================================================
// ApplyTransaction
// =====================================================================

func TestApplyTransaction_Credit(t *testing.T) {
	w := activeWallet("100.00")
	store := newMockStore(w)
	svc := NewService(store)

	entry, err := svc.ApplyTransaction(context.Background(), noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("25.50"), Direction: models.TxDirectionCredit,
		Type: models.TxTypeJobPayment,
	})
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if !store.balance(w.ID).Equal(dec("125.50")) {
		t.Errorf("balance = %s, want 125.50", store.balance(w.ID))
	}
	if !entry.BalanceBefore.Equal(dec("100.00")) || !entry.BalanceAfter.Equal(dec("125.50")) {
		t.Errorf("snapshot = %s -> %s, want 100.00 -> 125.50", entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.Reference == "" {
		t.Error("entry missing reference code")
	}
}

func TestApplyTransaction_DebitInsufficientFunds(t *testing.T) {
	w := activeWallet("10.00")
	store := newMockStore(w)
	svc := NewService(store)

	_, err := svc.ApplyTransaction(context.Background(), noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("10.01"), Direction: models.TxDirectionDebit,
		Type: models.TxTypeJobPayment,
	})
	if !apperr.Is(err, apperr.CodeInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if !store.balance(w.ID).Equal(dec("10.00")) {
		t.Errorf("balance mutated on rejected debit: %s", store.balance(w.ID))
	}
	if len(store.entries) != 0 {
		t.Errorf("ledger entry written for rejected debit")
	}
}

func TestApplyTransaction_DebitToExactlyZero(t *testing.T) {
	w := activeWallet("10.00")
	store := newMockStore(w)
	svc := NewService(store)

	_, err := svc.ApplyTransaction(context.Background(), noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("10.00"), Direction: models.TxDirectionDebit,
		Type: models.TxTypeJobPayment,
	})
	if err != nil {
		t.Fatalf("debit to zero should succeed: %v", err)
	}
	if !store.balance(w.ID).IsZero() {
		t.Errorf("balance = %s, want 0", store.balance(w.ID))
	}
}

func TestApplyTransaction_RejectsBadInput(t *testing.T) {
	w := activeWallet("100.00")
	svc := NewService(newMockStore(w))

	cases := []struct {
		name  string
		apply Apply
	}{
		{"zero amount", Apply{WalletID: w.ID, Amount: decimal.Zero, Direction: models.TxDirectionCredit, Type: models.TxTypeJobPayment}},
		{"negative amount", Apply{WalletID: w.ID, Amount: dec("-5.00"), Direction: models.TxDirectionCredit, Type: models.TxTypeJobPayment}},
		{"three decimal places", Apply{WalletID: w.ID, Amount: dec("1.005"), Direction: models.TxDirectionCredit, Type: models.TxTypeJobPayment}},
		{"unknown direction", Apply{WalletID: w.ID, Amount: dec("1.00"), Direction: "sideways", Type: models.TxTypeJobPayment}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ApplyTransaction(context.Background(), noopTx{}, tc.apply); !apperr.Is(err, apperr.CodeValidation) {
				t.Errorf("expected Validation error, got %v", err)
			}
		})
	}
}

func TestApplyTransaction_InactiveWallet(t *testing.T) {
	w := activeWallet("100.00")
	w.IsActive = false
	svc := NewService(newMockStore(w))

	_, err := svc.ApplyTransaction(context.Background(), noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("1.00"), Direction: models.TxDirectionCredit,
		Type: models.TxTypeJobPayment,
	})
	if !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestApplyTransaction_LifetimeTotals(t *testing.T) {
	w := activeWallet("100.00")
	store := newMockStore(w)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.ApplyTransaction(ctx, noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("40.00"), Direction: models.TxDirectionCredit,
		Type: models.TxTypeJobPayment,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.ApplyTransaction(ctx, noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("30.00"), Direction: models.TxDirectionDebit,
		Type: models.TxTypeBatchWithdrawal,
	}); err != nil {
		t.Fatalf("withdrawal debit: %v", err)
	}
	if _, err := svc.ApplyTransaction(ctx, noopTx{}, Apply{
		WalletID: w.ID, Amount: dec("20.00"), Direction: models.TxDirectionDebit,
		Type: models.TxTypeJobPayment,
	}); err != nil {
		t.Fatalf("spend debit: %v", err)
	}

	got := store.wallets[w.ID]
	if !got.TotalEarned.Equal(dec("40.00")) {
		t.Errorf("TotalEarned = %s, want 40.00", got.TotalEarned)
	}
	if !got.TotalWithdrawn.Equal(dec("30.00")) {
		t.Errorf("TotalWithdrawn = %s, want 30.00", got.TotalWithdrawn)
	}
	if !got.TotalSpent.Equal(dec("20.00")) {
		t.Errorf("TotalSpent = %s, want 20.00", got.TotalSpent)
	}
}

// Every entry's before/after snapshot must chain: entry N's after equals
// entry N+1's before, and replaying the deltas reproduces the balance.
func TestLedger_SnapshotChain(t *testing.T) {
	w := activeWallet("0.00")
	store := newMockStore(w)
	svc := NewService(store)
	ctx := context.Background()

	amounts := []string{"10.00", "2.50", "7.25", "1.00"}
	for i, a := range amounts {
		dir := models.TxDirectionCredit
		if i%2 == 1 {
			dir = models.TxDirectionDebit
		}
		if _, err := svc.ApplyTransaction(ctx, noopTx{}, Apply{
			WalletID: w.ID, Amount: dec(a), Direction: dir, Type: models.TxTypeAdjustment,
		}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	replayed := decimal.Zero
	for i, e := range store.entries {
		if !e.BalanceBefore.Equal(replayed) {
			t.Fatalf("entry %d: before = %s, want %s", i, e.BalanceBefore, replayed)
		}
		if e.Direction == models.TxDirectionCredit {
			replayed = replayed.Add(e.Amount)
		} else {
			replayed = replayed.Sub(e.Amount)
		}
		if !e.BalanceAfter.Equal(replayed) {
			t.Fatalf("entry %d: after = %s, want %s", i, e.BalanceAfter, replayed)
		}
	}
	if !store.balance(w.ID).Equal(replayed) {
		t.Errorf("replayed balance %s != stored %s", replayed, store.balance(w.ID))
	}
}

// =====================================================================
// Transfer
// =====================================================================

func TestTransfer_MovesFundsAndSharesReference(t *testing.T) {
	from := activeWallet("50.00")
	to := activeWallet("5.00")
	store := newMockStore(from, to)
	svc := NewService(store)

	if err := svc.Transfer(context.Background(), noopTx{}, from.ID, to.ID, dec("12.00"), models.TxTypeJobPayment, nil); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !store.balance(from.ID).Equal(dec("38.00")) {
		t.Errorf("from balance = %s, want 38.00", store.balance(from.ID))
	}
	if !store.balance(to.ID).Equal(dec("17.00")) {
		t.Errorf("to balance = %s, want 17.00", store.balance(to.ID))
	}
	if len(store.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(store.entries))
	}
	if store.entries[0].Reference != store.entries[1].Reference {
		t.Error("transfer legs do not share a reference")
	}
}

func TestTransfer_InsufficientFundsLeavesNoEntries(t *testing.T) {
	from := activeWallet("5.00")
	to := activeWallet("0.00")
	store := newMockStore(from, to)
	svc := NewService(store)

	err := svc.Transfer(context.Background(), noopTx{}, from.ID, to.ID, dec("12.00"), models.TxTypeJobPayment, nil)
	if !apperr.Is(err, apperr.CodeInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if len(store.entries) != 0 {
		t.Errorf("entries written for failed transfer: %d", len(store.entries))
	}
}

// =====================================================================
// CreditOwner
// =====================================================================

func TestCreditOwner_ResolvesWalletByOwner(t *testing.T) {
	w := activeWallet("0.00")
	store := newMockStore(w)
	svc := NewService(store)

	jobID := uuid.New()
	entry, err := svc.CreditOwner(context.Background(), noopTx{}, w.OwnerType, w.OwnerID, dec("99.99"), models.TxTypeJobPayment, &jobID, nil)
	if err != nil {
		t.Fatalf("CreditOwner: %v", err)
	}
	if entry.WalletID != w.ID {
		t.Errorf("credited wallet %s, want %s", entry.WalletID, w.ID)
	}
	if entry.JobID == nil || *entry.JobID != jobID {
		t.Error("entry missing job reference")
	}
	if !store.balance(w.ID).Equal(dec("99.99")) {
		t.Errorf("balance = %s, want 99.99", store.balance(w.ID))
	}
}
