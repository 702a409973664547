package vault

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/captable/internal/crypto"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/pkg/audit"
)

func newVault(t *testing.T) (*Service, *Store, *crypto.LocalKeyManager) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keys, err := crypto.NewLocalKeyManager("", "key-1")
	require.NoError(t, err)
	store, err := NewStore(db, crypto.NewEnvelope(keys))
	require.NoError(t, err)
	return NewService(store, audit.NewRecorder()), store, keys
}

func aliceIdentity() Identity {
	return Identity{
		LegalName: "Alice Andersson",
		Email:     "alice@example.com",
		TaxID:     "19850101-1234",
	}
}

func TestRegisterAndReveal(t *testing.T) {
	svc, _, _ := newVault(t)
	ctx := context.Background()

	sh, err := svc.Register(ctx, "admin", aliceIdentity())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sh.Token, "sh_"), "token = %s", sh.Token)
	assert.Equal(t, "1234", sh.TaxIDLast4)
	assert.False(t, sh.CreatedAt.IsZero())

	id, err := svc.Reveal(ctx, "admin", sh.Token)
	require.NoError(t, err)
	assert.Equal(t, "Alice Andersson", id.LegalName)
	assert.Equal(t, "alice@example.com", id.Email)
	// Separators are stripped before storage.
	assert.Equal(t, "198501011234", id.TaxID)
}

func TestLookupDoesNotNeedDecryption(t *testing.T) {
	svc, _, _ := newVault(t)
	ctx := context.Background()

	sh, err := svc.Register(ctx, "admin", aliceIdentity())
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, sh.Token)
	require.NoError(t, err)
	assert.Equal(t, sh.Token, got.Token)
	assert.Equal(t, "1234", got.TaxIDLast4)
}

func TestRevealUnknownToken(t *testing.T) {
	svc, _, _ := newVault(t)

	_, err := svc.Reveal(context.Background(), "admin", "sh_missing")
	var notFound *equity.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "sh_missing", notFound.ResourceID)
}

func TestValidationRejectsBadIdentities(t *testing.T) {
	svc, _, _ := newVault(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Identity)
	}{
		{"empty name", func(id *Identity) { id.LegalName = "  " }},
		{"name with digits", func(id *Identity) { id.LegalName = "Acme 123" }},
		{"bad email", func(id *Identity) { id.Email = "not-an-address" }},
		{"tax id too short", func(id *Identity) { id.TaxID = "1234" }},
		{"tax id with symbols", func(id *Identity) { id.TaxID = "12345678#9" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := aliceIdentity()
			tc.mutate(&id)
			_, err := svc.Register(ctx, "admin", id)
			assert.Error(t, err)
		})
	}
}

func TestPlaintextNeverHitsTheDatabase(t *testing.T) {
	svc, store, _ := newVault(t)
	ctx := context.Background()

	sh, err := svc.Register(ctx, "admin", aliceIdentity())
	require.NoError(t, err)

	rec, err := store.Get(ctx, sh.Token)
	require.NoError(t, err)
	assert.NotContains(t, string(rec.Sealed.Ciphertext), "Alice")
	assert.NotContains(t, string(rec.Sealed.Ciphertext), "198501011234")
}

func TestRotateKeyReencryptsRecords(t *testing.T) {
	svc, store, keys := newVault(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "admin", aliceIdentity())
	require.NoError(t, err)
	second, err := svc.Register(ctx, "admin", Identity{
		LegalName: "Bob Berg",
		Email:     "bob@example.com",
		TaxID:     "19900202-5678",
	})
	require.NoError(t, err)

	require.NoError(t, keys.SetActiveKeyID("key-2"))
	count, err := svc.RotateKey(ctx, "admin", "key-1", "key-2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, token := range []string{first.Token, second.Token} {
		rec, err := store.Get(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "key-2", rec.Sealed.KeyID)
		_, err = svc.Reveal(ctx, "admin", token)
		assert.NoError(t, err)
	}

	// Nothing left under the old key.
	count, err = svc.RotateKey(ctx, "admin", "key-1", "key-2")
	require.NoError(t, err)
	assert.Zero(t, count)
}
