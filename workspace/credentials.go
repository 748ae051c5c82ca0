package workspace

import (
	"context"
	"fmt"

	"github.com/sternelee/forge-agent/persistence"
)

// workspaceProviderID is the credential-file entry the sync engine reads
// its bearer token and user ID from.
const workspaceProviderID = "workspace"

// StoreCredentialResolver resolves sync-engine credentials from a
// persistence.CredentialStore, transparently refreshing Google ADC-backed
// entries on every call.
type StoreCredentialResolver struct {
	Store *persistence.CredentialStore
}

// Resolve implements CredentialResolver.
func (r *StoreCredentialResolver) Resolve(ctx context.Context) (Credentials, error) {
	cred, ok, err := r.Store.GetResolved(ctx, workspaceProviderID)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve workspace credentials: %w", err)
	}
	if !ok {
		return Credentials{}, fmt.Errorf("no %q credential configured", workspaceProviderID)
	}
	return Credentials{
		Token:  cred.APIKey(),
		UserID: cred.URLParams["user_id"],
	}, nil
}
