package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/pkg/audit"
)

type fixture struct {
	svc      *Service
	registry *registry.Registry
	auditor  *audit.Recorder
	classID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.New()
	auditor := audit.NewRecorder()
	svc := NewService(NewMemoryStore(), reg, auditor)

	class, err := reg.CreateClass(context.Background(), registry.CreateClassRequest{
		CompanyID:       "co-1",
		Name:            "Common",
		Type:            equity.ClassCommon,
		TotalAuthorized: decimal.NewFromInt(1_000_000),
		VotesPerShare:   1,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, registry: reg, auditor: auditor, classID: class.ID}
}

func (f *fixture) confirm(t *testing.T, txID string) *equity.Transaction {
	t.Helper()
	ctx := context.Background()

	var tx *equity.Transaction
	var err error
	for _, status := range []equity.TransactionStatus{
		equity.TxPendingApproval, equity.TxSubmitted, equity.TxConfirmed,
	} {
		tx, err = f.svc.Transition(ctx, txID, status, "tester")
		require.NoError(t, err)
	}
	return tx
}

func (f *fixture) issue(t *testing.T, holder string, qty int64) *equity.Transaction {
	t.Helper()
	tx, err := f.svc.Append(context.Background(), AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: holder,
		ShareClassID:    f.classID,
		Quantity:        decimal.NewFromInt(qty),
		CreatedBy:       "tester",
	})
	require.NoError(t, err)
	return f.confirm(t, tx.ID)
}

func TestStateMachine(t *testing.T) {
	assert.True(t, IsValidTransition(equity.TxDraft, equity.TxPendingApproval))
	assert.True(t, IsValidTransition(equity.TxDraft, equity.TxCancelled))
	assert.True(t, IsValidTransition(equity.TxPendingApproval, equity.TxSubmitted))
	assert.True(t, IsValidTransition(equity.TxSubmitted, equity.TxConfirmed))
	assert.True(t, IsValidTransition(equity.TxSubmitted, equity.TxFailed))
	assert.True(t, IsValidTransition(equity.TxFailed, equity.TxCancelled))

	assert.False(t, IsValidTransition(equity.TxDraft, equity.TxConfirmed))
	assert.False(t, IsValidTransition(equity.TxConfirmed, equity.TxCancelled))
	assert.False(t, IsValidTransition(equity.TxCancelled, equity.TxDraft))

	assert.True(t, IsTerminal(equity.TxConfirmed))
	assert.True(t, IsTerminal(equity.TxCancelled))
	assert.False(t, IsTerminal(equity.TxSubmitted))

	assert.True(t, IsCancellable(equity.TxDraft))
	assert.True(t, IsCancellable(equity.TxFailed))
	assert.False(t, IsCancellable(equity.TxConfirmed))
}

func TestAppendStartsInDraft(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.Append(context.Background(), AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: "sh-alice",
		ShareClassID:    f.classID,
		Quantity:        decimal.NewFromInt(1000),
		CreatedBy:       "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, equity.TxDraft, tx.Status)
	assert.NotEmpty(t, tx.ID)
	assert.True(t, tx.ConfirmedAt.IsZero())
}

func TestAppendValidatesShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  AppendRequest
	}{
		{"issuance without recipient", AppendRequest{
			CompanyID: "co-1", Type: equity.TxIssuance,
			ShareClassID: f.classID, Quantity: decimal.NewFromInt(10),
		}},
		{"issuance with source holder", AppendRequest{
			CompanyID: "co-1", Type: equity.TxIssuance,
			FromShareholderID: "sh-a", ToShareholderID: "sh-b",
			ShareClassID: f.classID, Quantity: decimal.NewFromInt(10),
		}},
		{"transfer to self", AppendRequest{
			CompanyID: "co-1", Type: equity.TxTransfer,
			FromShareholderID: "sh-a", ToShareholderID: "sh-a",
			ShareClassID: f.classID, Quantity: decimal.NewFromInt(10),
		}},
		{"cancellation with recipient", AppendRequest{
			CompanyID: "co-1", Type: equity.TxCancellation,
			FromShareholderID: "sh-a", ToShareholderID: "sh-b",
			ShareClassID: f.classID, Quantity: decimal.NewFromInt(10),
		}},
		{"split with shareholder", AppendRequest{
			CompanyID: "co-1", Type: equity.TxSplit,
			ToShareholderID: "sh-a",
			ShareClassID:    f.classID, Quantity: decimal.NewFromInt(7),
		}},
		{"zero quantity", AppendRequest{
			CompanyID: "co-1", Type: equity.TxIssuance,
			ToShareholderID: "sh-a",
			ShareClassID:    f.classID, Quantity: decimal.Zero,
		}},
		{"unknown type", AppendRequest{
			CompanyID: "co-1", Type: "GIFT",
			ToShareholderID: "sh-a",
			ShareClassID:    f.classID, Quantity: decimal.NewFromInt(10),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Append(ctx, tc.req)
			assert.Error(t, err)
		})
	}
}

func TestAppendUnknownShareClass(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Append(context.Background(), AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: "sh-alice",
		ShareClassID:    "cls-missing",
		Quantity:        decimal.NewFromInt(10),
		CreatedBy:       "tester",
	})

	var notFound *equity.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestConfirmAppliesIssuanceAccounting(t *testing.T) {
	f := newFixture(t)

	tx := f.issue(t, "sh-alice", 1000)
	assert.Equal(t, equity.TxConfirmed, tx.Status)
	assert.False(t, tx.ConfirmedAt.IsZero())

	class, err := f.registry.Get(context.Background(), f.classID)
	require.NoError(t, err)
	assert.True(t, class.TotalIssued.Equal(decimal.NewFromInt(1000)))
}

func TestConfirmedIsImmutable(t *testing.T) {
	f := newFixture(t)
	tx := f.issue(t, "sh-alice", 1000)

	_, err := f.svc.Transition(context.Background(), tx.ID, equity.TxCancelled, "tester")
	var immutable *equity.ImmutableRecordError
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, tx.ID, immutable.ResourceID)
}

func TestIllegalTransition(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.Append(context.Background(), AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: "sh-alice",
		ShareClassID:    f.classID,
		Quantity:        decimal.NewFromInt(10),
		CreatedBy:       "tester",
	})
	require.NoError(t, err)

	_, err = f.svc.Transition(context.Background(), tx.ID, equity.TxConfirmed, "tester")
	var invalid *equity.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "DRAFT", invalid.FromStatus)
	assert.Equal(t, "CONFIRMED", invalid.ToStatus)
}

func TestConfirmRejectsOverdrawWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "sh-alice", 100)

	transfer, err := f.svc.Append(ctx, AppendRequest{
		CompanyID:         "co-1",
		Type:              equity.TxTransfer,
		FromShareholderID: "sh-alice",
		ToShareholderID:   "sh-bob",
		ShareClassID:      f.classID,
		Quantity:          decimal.NewFromInt(150),
		CreatedBy:         "tester",
	})
	require.NoError(t, err)
	for _, status := range []equity.TransactionStatus{equity.TxPendingApproval, equity.TxSubmitted} {
		_, err = f.svc.Transition(ctx, transfer.ID, status, "tester")
		require.NoError(t, err)
	}

	_, err = f.svc.Transition(ctx, transfer.ID, equity.TxConfirmed, "tester")
	var insufficient *equity.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	// The failed confirmation left the transaction, the ledger, and the
	// registry untouched.
	got, err := f.svc.Get(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, equity.TxSubmitted, got.Status)

	confirmed, err := f.svc.ConfirmedAsOf(ctx, "co-1", "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	class, err := f.registry.Get(ctx, f.classID)
	require.NoError(t, err)
	assert.True(t, class.TotalIssued.Equal(decimal.NewFromInt(100)))
}

func TestConfirmRejectsOverIssuance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The class authorizes 1,000,000 shares.
	tx, err := f.svc.Append(ctx, AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: "sh-alice",
		ShareClassID:    f.classID,
		Quantity:        decimal.NewFromInt(1_000_001),
		CreatedBy:       "tester",
	})
	require.NoError(t, err)
	for _, status := range []equity.TransactionStatus{equity.TxPendingApproval, equity.TxSubmitted} {
		_, err = f.svc.Transition(ctx, tx.ID, status, "tester")
		require.NoError(t, err)
	}

	_, err = f.svc.Transition(ctx, tx.ID, equity.TxConfirmed, "tester")
	require.Error(t, err)

	got, err := f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, equity.TxSubmitted, got.Status)
}

func TestCancelledDraftStaysOutOfBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.Append(ctx, AppendRequest{
		CompanyID:       "co-1",
		Type:            equity.TxIssuance,
		ToShareholderID: "sh-alice",
		ShareClassID:    f.classID,
		Quantity:        decimal.NewFromInt(500),
		CreatedBy:       "tester",
	})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, tx.ID, equity.TxCancelled, "tester")
	require.NoError(t, err)

	confirmed, err := f.svc.ConfirmedAsOf(ctx, "co-1", "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, confirmed)
}

func TestSplitConfirmationRescalesRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "sh-alice", 1000)

	split, err := f.svc.Append(ctx, AppendRequest{
		CompanyID:    "co-1",
		Type:         equity.TxSplit,
		ShareClassID: f.classID,
		Quantity:     decimal.NewFromInt(7),
		CreatedBy:    "tester",
	})
	require.NoError(t, err)
	f.confirm(t, split.ID)

	class, err := f.registry.Get(ctx, f.classID)
	require.NoError(t, err)
	assert.True(t, class.TotalIssued.Equal(decimal.NewFromInt(7000)))
	assert.True(t, class.TotalAuthorized.Equal(decimal.NewFromInt(7_000_000)))
}

func TestConcurrentConfirmationsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "sh-alice", 100)

	// Two transfers that each fit the balance alone but not together.
	ids := make([]string, 2)
	for i, to := range []string{"sh-bob", "sh-carol"} {
		tx, err := f.svc.Append(ctx, AppendRequest{
			CompanyID:         "co-1",
			Type:              equity.TxTransfer,
			FromShareholderID: "sh-alice",
			ToShareholderID:   to,
			ShareClassID:      f.classID,
			Quantity:          decimal.NewFromInt(80),
			CreatedBy:         "tester",
		})
		require.NoError(t, err)
		for _, status := range []equity.TransactionStatus{equity.TxPendingApproval, equity.TxSubmitted} {
			_, err = f.svc.Transition(ctx, tx.ID, status, "tester")
			require.NoError(t, err)
		}
		ids[i] = tx.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.Transition(ctx, id, equity.TxConfirmed, "tester")
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of the conflicting transfers may confirm")

	confirmed, err := f.svc.ConfirmedAsOf(ctx, "co-1", "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, confirmed, 2)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "sh-alice", 100)

	entries := f.auditor.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "transaction.append", entries[0].Action)
	assert.True(t, audit.VerifyChain(entries))
}
