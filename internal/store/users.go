package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUserPhone returns the contact number used for SMS notifications
func (s *Store) GetUserPhone(ctx context.Context, userID int64) (string, error) {
	var phone sql.NullString
	err := s.db.GetContext(ctx, &phone, "SELECT phone FROM users WHERE id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return phone.String, nil
}
