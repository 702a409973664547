package snapshot

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/captable/internal/equity"
)

func sampleState() State {
	return State{
		TotalShares:       decimal.NewFromInt(1_000_000),
		TotalShareholders: 2,
		Positions: []Position{
			{ShareholderID: "sh-alice", ShareClassID: "cls-common", Shares: decimal.NewFromInt(600_000)},
			{ShareholderID: "sh-bob", ShareClassID: "cls-common", Shares: decimal.NewFromInt(400_000)},
		},
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	state := sampleState()

	reversed := sampleState()
	reversed.Positions[0], reversed.Positions[1] = reversed.Positions[1], reversed.Positions[0]

	assert.Equal(t, Canonicalize(state), Canonicalize(reversed))
	assert.Equal(t, StateHash(Canonicalize(state)), StateHash(Canonicalize(reversed)))
}

func TestCanonicalizeFormat(t *testing.T) {
	got := Canonicalize(sampleState())
	want := "v1|shares=1000000.000000|holders=2|" +
		"sh-alice:cls-common:600000.000000;" +
		"sh-bob:cls-common:400000.000000;"
	assert.Equal(t, want, got)
}

func TestStateHashSensitivity(t *testing.T) {
	base := StateHash(Canonicalize(sampleState()))

	changed := sampleState()
	changed.Positions[1].Shares = changed.Positions[1].Shares.Add(decimal.NewFromFloat(0.000001))
	assert.NotEqual(t, base, StateHash(Canonicalize(changed)))
}

func TestCreateLinksChain(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)

	first, err := svc.Create(ctx, "co-1", "MANUAL", sampleState())
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, first.PreviousHash)

	second, err := svc.Create(ctx, "co-1", "SCHEDULED", sampleState())
	require.NoError(t, err)
	assert.Equal(t, first.StateHash, second.PreviousHash)
	// Identical state hashes identically; only the link differs.
	assert.Equal(t, first.StateHash, second.StateHash)

	latest, err := svc.Latest(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestVerifyChainValid(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, "co-1", "SCHEDULED", sampleState())
		require.NoError(t, err)
	}

	report, err := svc.VerifyChain(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, ChainValid, report.Status)
	assert.Equal(t, 1, report.DaysVerified)
	assert.Equal(t, 1, report.DaysValid)
	assert.Equal(t, 0, report.DaysInvalid)
}

func TestVerifyChainNoData(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	report, err := svc.VerifyChain(context.Background(), "co-unknown")
	require.NoError(t, err)
	assert.Equal(t, ChainNoData, report.Status)
	assert.Zero(t, report.DaysVerified)
}

func chainRecord(companyID, id string, day time.Time, previous string, state State) *Record {
	payload := Canonicalize(state)
	return &Record{
		CapTableSnapshot: equity.CapTableSnapshot{
			ID:                id,
			CompanyID:         companyID,
			SnapshotDate:      day,
			TotalShares:       state.TotalShares,
			TotalShareholders: state.TotalShareholders,
			Trigger:           "SCHEDULED",
			StateHash:         StateHash(payload),
			PreviousHash:      previous,
			CreatedAt:         day,
		},
		Payload: payload,
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	first := chainRecord("co-1", "snap-1", day1, GenesisHash, sampleState())
	second := chainRecord("co-1", "snap-2", day2, first.StateHash, sampleState())
	// Tamper with the second snapshot's payload after hashing.
	second.Payload = second.Payload + "sh-mallory:cls-common:1.000000;"

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	report, err := NewService(store, nil).VerifyChain(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, ChainInvalid, report.Status)
	assert.Equal(t, 2, report.DaysVerified)
	assert.Equal(t, 1, report.DaysValid)
	assert.Equal(t, 1, report.DaysInvalid)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	first := chainRecord("co-1", "snap-1", day1, GenesisHash, sampleState())
	// Second snapshot links to a hash that is not its predecessor's.
	second := chainRecord("co-1", "snap-2", day2, GenesisHash, sampleState())

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	report, err := NewService(store, nil).VerifyChain(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, ChainInvalid, report.Status)
	assert.Equal(t, 1, report.DaysValid)
	assert.Equal(t, 1, report.DaysInvalid)
}

func TestMemoryStoreAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := chainRecord("co-1", "snap-1", time.Now().UTC(), GenesisHash, sampleState())
	require.NoError(t, store.Append(ctx, rec))

	err := store.Append(ctx, rec)
	var immutable *equity.ImmutableRecordError
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, "snap-1", immutable.ResourceID)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	svc := NewService(store, nil)

	first, err := svc.Create(ctx, "co-1", "MANUAL", sampleState())
	require.NoError(t, err)
	_, err = svc.Create(ctx, "co-1", "SCHEDULED", sampleState())
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "co-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.StateHash, latest.PreviousHash)
	assert.True(t, latest.TotalShares.Equal(decimal.NewFromInt(1_000_000)))

	history, err := store.List(ctx, "co-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, latest.ID, history[0].ID)

	report, err := svc.VerifyChain(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, ChainValid, report.Status)

	err = store.Append(ctx, latest)
	var immutable *equity.ImmutableRecordError
	require.ErrorAs(t, err, &immutable)
}
