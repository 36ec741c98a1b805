package interfaces

import (
	"context"

	"roomhub/pkg/types"
)

// IdentityVerifier is the auth collaborator. It resolves a per-connection
// credential into a verified user identity, failing with
// ErrUnauthenticated if the credential is invalid or expired. Connections
// without a resolvable identity are never registered.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*types.Identity, error)
}
