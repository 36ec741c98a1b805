package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// Claims is the custom JWT claims structure. Subject carries the user id;
// the name claims are optional display metadata.
type Claims struct {
	UserName string `json:"name,omitempty"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier resolves HS256 bearer tokens into verified user identities.
// Token issuance is an external concern; this side only validates
// signature, expiry and the subject claim.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the credential, failing with
// interfaces.ErrUnauthenticated for anything other than a well-signed,
// unexpired token carrying a valid subject.
func (v *Verifier) Verify(ctx context.Context, credential string) (*types.Identity, error) {
	if credential == "" {
		return nil, interfaces.ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, interfaces.ErrUnauthenticated
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, interfaces.ErrUnauthenticated
	}

	if !types.IsValidUserID(claims.Subject) {
		return nil, interfaces.ErrUnauthenticated
	}

	return &types.Identity{
		UserID:   claims.Subject,
		UserName: claims.UserName,
		FullName: claims.FullName,
	}, nil
}
