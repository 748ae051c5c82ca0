package persistence

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// vertexAIScopes is the scope Google ADC tokens need to call Vertex AI,
// the only provider that currently uses the ADC marker credential.
var vertexAIScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}

// RefreshGoogleADC fetches a fresh access token from the ambient Google
// Application Default Credentials (service account, gcloud user
// credentials, or metadata server, in that order — see
// golang.org/x/oauth2/google). It is best-effort: callers should surface
// failures as a provider-unavailable error instructing the user to run
// `gcloud auth application-default login`.
func RefreshGoogleADC(ctx context.Context) (*oauth2.Token, error) {
	creds, err := google.FindDefaultCredentials(ctx, vertexAIScopes...)
	if err != nil {
		return nil, fmt.Errorf("find Google application default credentials: %w", err)
	}

	token, err := creds.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("fetch Google ADC access token: %w", err)
	}
	return token, nil
}

// RefreshGoogleADCCredential returns cred with a fresh Google ADC token
// substituted for its ApiKey auth_details entry, preserving url_params.
// Callers invoke this whenever Credential.IsGoogleADC reports true; the
// refreshed credential is not persisted, since ADC tokens expire quickly
// and are re-fetched on every load.
func RefreshGoogleADCCredential(ctx context.Context, cred Credential) (Credential, error) {
	token, err := RefreshGoogleADC(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh Google ADC token: %w. Please run 'gcloud auth application-default login' to set up credentials", err)
	}

	refreshed := Credential{
		ID:        cred.ID,
		URLParams: cred.URLParams,
		AuthDetails: map[string]string{
			"ApiKey": token.AccessToken,
		},
	}
	return refreshed, nil
}
