package store

import (
	"context"
	"fmt"

	"github.com/rcliao/clip-memory/internal/model"
)

// Users returns per-user entry counts, largest first.
func (s *SQLiteStore) Users(ctx context.Context) ([]model.UserCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*) AS cnt
		FROM memories
		GROUP BY user_id ORDER BY cnt DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("user counts: %w", err)
	}
	defer rows.Close()

	var users []model.UserCount
	for rows.Next() {
		var u model.UserCount
		if err := rows.Scan(&u.UserID, &u.Count); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
