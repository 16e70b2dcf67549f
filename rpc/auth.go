package rpc

import (
	"fmt"
	"slices"

	"github.com/dnldd/candlebot/shared"
)

// PermissionLevel01 is the permission every bot command requires.
const PermissionLevel01 = "level01"

// Authorizer resolves the permissions of an access token.
type Authorizer interface {
	// Permissions returns the permissions granted to the provided token.
	Permissions(token string) ([]string, error)
}

// StaticAuthorizer grants fixed permissions to a fixed set of tokens.
type StaticAuthorizer struct {
	tokens map[string][]string
}

// Ensure the static authorizer implements the Authorizer interface.
var _ Authorizer = (*StaticAuthorizer)(nil)

// NewStaticAuthorizer initializes an authorizer over the provided token permissions.
func NewStaticAuthorizer(tokens map[string][]string) *StaticAuthorizer {
	return &StaticAuthorizer{tokens: tokens}
}

// Permissions returns the permissions of the provided token.
func (a *StaticAuthorizer) Permissions(token string) ([]string, error) {
	permissions, ok := a.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: invalid access token", shared.ErrAuthorization)
	}

	return permissions, nil
}

// Authenticate resolves the permissions of the request token. Requests without a token
// carry no permissions.
func Authenticate(authorizer Authorizer) Middleware {
	return func(req *Request) (*Request, error) {
		if req.Token == "" {
			req.Permissions = nil
			return req, nil
		}

		permissions, err := authorizer.Permissions(req.Token)
		if err != nil {
			return nil, err
		}

		req.Permissions = permissions
		return req, nil
	}
}

// RequirePermission rejects requests lacking the provided permission.
func RequirePermission(permission string) Middleware {
	return func(req *Request) (*Request, error) {
		if !slices.Contains(req.Permissions, permission) {
			return nil, fmt.Errorf("%w: %s required for %s", shared.ErrDenied, permission, req.Command)
		}

		return req, nil
	}
}
