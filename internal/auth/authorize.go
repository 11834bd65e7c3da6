package auth

import "context"

// Authorize checks that the caller in ctx holds perm.
func Authorize(ctx context.Context, perm string) error {
	if _, ok := UserIDFromContext(ctx); !ok {
		return ErrUnauthorized
	}
	if _, ok := PermissionsFor(RolesFromContext(ctx))[perm]; !ok {
		return ErrForbidden
	}
	return nil
}
