package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"orderflow/internal/platform/dependency"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenVerifier checks HS256 bearer tokens issued by the user service and
// returns the user id carried in the subject claim.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Verify(token string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrUnauthenticated
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}

// IdentityClient resolves a bearer token to a caller through the user
// service's /me endpoint.
type IdentityClient struct {
	client *dependency.Client
}

func NewIdentityClient(client *dependency.Client) *IdentityClient {
	return &IdentityClient{client: client}
}

type meResponse struct {
	ID       string `json:"id"`
	MainRole string `json:"main_role"`
}

// Resolve returns ErrUnauthenticated when the user service rejects the token
// or does not know the user, and ErrDependencyUnavailable for every other
// failure to get an answer.
func (c *IdentityClient) Resolve(ctx context.Context, token string) (Caller, error) {
	resp, err := c.client.Do(ctx, dependency.Request{
		Method: http.MethodGet,
		Path:   "/me",
		Header: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		switch dependency.StatusCode(err) {
		case http.StatusUnauthorized, http.StatusNotFound:
			return Caller{}, ErrUnauthenticated
		}
		return Caller{}, fmt.Errorf("%w: user service: %w", ErrDependencyUnavailable, err)
	}

	var me meResponse
	if err := resp.DecodeJSON(&me); err != nil {
		return Caller{}, errors.Join(ErrUnauthenticated, err)
	}
	id, err := uuid.Parse(me.ID)
	if err != nil {
		return Caller{}, ErrUnauthenticated
	}

	role := me.MainRole
	if role == "" {
		role = "user"
	}
	return Caller{UserID: id, Role: role}, nil
}
