package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// googleADCMarker is the sentinel auth_details value that marks a
// credential as backed by Google Application Default Credentials rather
// than a static API key; RefreshGoogleADC is invoked whenever a loaded
// credential carries this marker.
const googleADCMarker = "google_adc_marker"

// Credential is one provider's stored authentication record, matching the
// on-disk JSON shape described by the credential file contract: an API key
// or marker value plus any URL template parameters the provider's request
// needs (e.g. AWS_REGION).
type Credential struct {
	ID          string            `json:"id"`
	AuthDetails map[string]string `json:"auth_details"`
	URLParams   map[string]string `json:"url_params,omitempty"`
}

// APIKey returns the credential's "ApiKey" auth_details entry, the only
// auth_details key the core currently understands.
func (c Credential) APIKey() string {
	return c.AuthDetails["ApiKey"]
}

// IsGoogleADC reports whether this credential is a placeholder awaiting a
// live Google ADC token refresh rather than a static key.
func (c Credential) IsGoogleADC() bool {
	return c.APIKey() == googleADCMarker
}

// CredentialStore reads and writes the `.credentials.json` file under a
// base path. Reads are lock-free; writes serialize through a mutex and use
// a temp-file-then-rename so a reader never observes a partially written
// file, matching the "file-level lock or atomic rename" requirement for
// concurrent credential upserts.
type CredentialStore struct {
	basePath string
	mu       sync.Mutex
}

// NewCredentialStore returns a store rooted at basePath. The credentials
// file itself is basePath/.credentials.json.
func NewCredentialStore(basePath string) *CredentialStore {
	return &CredentialStore{basePath: basePath}
}

func (s *CredentialStore) path() string {
	return filepath.Join(s.basePath, ".credentials.json")
}

// Load reads all stored credentials. A missing file is not an error; it
// returns an empty slice, matching the one-shot migration's "only runs if
// the file doesn't exist" precondition.
func (s *CredentialStore) Load() ([]Credential, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds []Credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds, nil
}

// Get returns the credential with the given provider ID, if present.
func (s *CredentialStore) Get(providerID string) (Credential, bool, error) {
	creds, err := s.Load()
	if err != nil {
		return Credential{}, false, err
	}
	for _, c := range creds {
		if c.ID == providerID {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

// GetResolved returns the credential for providerID, transparently
// refreshing it via RefreshGoogleADCCredential when it carries the Google
// ADC marker — Google ADC tokens expire quickly, so this refresh happens
// on every load rather than being cached alongside the static entry.
func (s *CredentialStore) GetResolved(ctx context.Context, providerID string) (Credential, bool, error) {
	cred, ok, err := s.Get(providerID)
	if err != nil || !ok {
		return cred, ok, err
	}
	if !cred.IsGoogleADC() {
		return cred, true, nil
	}
	refreshed, err := RefreshGoogleADCCredential(ctx, cred)
	if err != nil {
		return Credential{}, false, err
	}
	return refreshed, true, nil
}

// Exists reports whether the credentials file has been created yet.
func (s *CredentialStore) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// Save writes the full credential list, replacing any existing file
// atomically via a temp file + rename in the same directory.
func (s *CredentialStore) Save(creds []Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return fmt.Errorf("create base path: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, ".credentials-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path()); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

// Upsert reads the full credential list, replaces or appends the entry for
// cred.ID, and writes the list back — the read-modify-write cycle the
// concurrency model requires callers to serialize themselves (single
// process, single writer).
func (s *CredentialStore) Upsert(cred Credential) error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	replaced := false
	for i, c := range creds {
		if c.ID == cred.ID {
			creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, cred)
	}
	return s.Save(creds)
}

// MigrateFromEnv performs the one-shot environment-variable-to-file
// migration: for each (providerID, envVar) pair whose env var is set, it
// synthesizes an ApiKey credential. It is a no-op if the credentials file
// already exists.
func (s *CredentialStore) MigrateFromEnv(envVars map[string]string) (int, error) {
	if s.Exists() {
		return 0, nil
	}

	var creds []Credential
	for providerID, envVar := range envVars {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		creds = append(creds, Credential{
			ID:          providerID,
			AuthDetails: map[string]string{"ApiKey": value},
		})
	}

	if len(creds) == 0 {
		return 0, nil
	}
	if err := s.Save(creds); err != nil {
		return 0, err
	}
	return len(creds), nil
}
