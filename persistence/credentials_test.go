package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStoreLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	creds, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, creds)
	assert.False(t, store.Exists())
}

func TestCredentialStoreSaveAndLoadRoundTrip(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	want := []Credential{
		{ID: "openai", AuthDetails: map[string]string{"ApiKey": "sk-test"}},
		{ID: "bedrock", AuthDetails: map[string]string{"ApiKey": "token"}, URLParams: map[string]string{"AWS_REGION": "us-east-1"}},
	}

	require.NoError(t, store.Save(want))
	assert.True(t, store.Exists())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCredentialStoreGet(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	require.NoError(t, store.Save([]Credential{
		{ID: "openai", AuthDetails: map[string]string{"ApiKey": "sk-test"}},
	}))

	cred, ok, err := store.Get("openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-test", cred.APIKey())

	_, ok, err = store.Get("anthropic")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialStoreUpsertReplacesExistingEntry(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	require.NoError(t, store.Upsert(Credential{ID: "openai", AuthDetails: map[string]string{"ApiKey": "old"}}))
	require.NoError(t, store.Upsert(Credential{ID: "openai", AuthDetails: map[string]string{"ApiKey": "new"}}))
	require.NoError(t, store.Upsert(Credential{ID: "anthropic", AuthDetails: map[string]string{"ApiKey": "another"}}))

	creds, err := store.Load()
	require.NoError(t, err)
	require.Len(t, creds, 2)

	cred, ok, err := store.Get("openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", cred.APIKey())
}

func TestCredentialStoreGetResolvedPassesThroughStaticKeys(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	require.NoError(t, store.Save([]Credential{
		{ID: "openai", AuthDetails: map[string]string{"ApiKey": "sk-test"}},
	}))

	cred, ok, err := store.GetResolved(context.Background(), "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-test", cred.APIKey())
}

func TestCredentialStoreGetResolvedMissingProvider(t *testing.T) {
	store := NewCredentialStore(t.TempDir())
	_, ok, err := store.GetResolved(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialStoreMigrateFromEnvSkipsUnsetVars(t *testing.T) {
	base := t.TempDir()
	store := NewCredentialStore(base)

	t.Setenv("FORGE_TEST_OPENAI_KEY", "sk-from-env")

	n, err := store.MigrateFromEnv(map[string]string{
		"openai":    "FORGE_TEST_OPENAI_KEY",
		"anthropic": "FORGE_TEST_ANTHROPIC_KEY_UNSET",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cred, ok, err := store.Get("openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-from-env", cred.APIKey())

	_, ok, err = store.Get("anthropic")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialStoreMigrateFromEnvIsOneShot(t *testing.T) {
	base := t.TempDir()
	store := NewCredentialStore(base)
	require.NoError(t, store.Save([]Credential{
		{ID: "openai", AuthDetails: map[string]string{"ApiKey": "already-there"}},
	}))

	t.Setenv("FORGE_TEST_OPENAI_KEY", "sk-from-env")
	n, err := store.MigrateFromEnv(map[string]string{"openai": "FORGE_TEST_OPENAI_KEY"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "migration must not run once the credentials file already exists")

	cred, ok, err := store.Get("openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "already-there", cred.APIKey())
}

func TestCredentialStoreSaveCreatesBasePath(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "dir")
	store := NewCredentialStore(base)

	require.NoError(t, store.Save([]Credential{{ID: "openai", AuthDetails: map[string]string{"ApiKey": "sk"}}}))

	_, err := os.Stat(filepath.Join(base, ".credentials.json"))
	require.NoError(t, err)
}

func TestCredentialIsGoogleADC(t *testing.T) {
	marker := Credential{ID: "vertex", AuthDetails: map[string]string{"ApiKey": googleADCMarker}}
	assert.True(t, marker.IsGoogleADC())

	static := Credential{ID: "openai", AuthDetails: map[string]string{"ApiKey": "sk-test"}}
	assert.False(t, static.IsGoogleADC())
}
