package engine

import (
	"planline/internal/apperr"
)

// tokenConflict is the error a guarded write returns when the caller's
// expected_updated_at no longer matches the stored one.
func tokenConflict(entity, id, current string) error {
	return apperr.Conflict(map[string]any{
		"conflict":           true,
		"current_updated_at": current,
	}, "%s %s was modified after it was read", entity, id)
}

// checkToken enforces an optional precondition. An empty expected token
// means the caller opted out and the write proceeds.
func checkToken(entity, id, expected, current string) error {
	if expected == "" || expected == current {
		return nil
	}
	return tokenConflict(entity, id, current)
}
