package auth

import (
	"context"
	"strings"

	"pos-backoffice/internal/user"
)

// RequireRole is the single authorization choke point: every privileged data
// operation resolves its caller through here before touching anything. An
// empty requiredRole only asserts a valid session.
func (s *Service) RequireRole(ctx context.Context, token, requiredRole string) (user.Record, error) {
	rec, _, err := s.Authenticate(ctx, token)
	if err != nil {
		return user.Record{}, err
	}

	if requiredRole != "" && !strings.EqualFold(rec.RoleName, requiredRole) {
		return user.Record{}, ErrForbidden
	}

	return rec, nil
}
