package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

// GetUser loads the account record by username, or nil when absent.
func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, email, pwhash, registered, role
		FROM users
		WHERE LOWER(username) = LOWER($1)`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PwHash, &u.Registered, &u.Role)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserInfo builds the public projection including the namespaces
// the user is a member of.
func (s *Store) GetUserInfo(ctx context.Context, username string) (*schema.FullUserInfo, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil || user == nil {
		return nil, err
	}

	namespaces, err := s.GetUserNamespaces(ctx, username)
	if err != nil {
		return nil, err
	}

	return &schema.FullUserInfo{
		UserInfo: schema.UserInfo{
			Username:   user.Username,
			Email:      user.Email,
			Registered: user.Registered,
			Namespaces: namespaces,
		},
		ID:   user.ID,
		Role: user.Role,
	}, nil
}

func (s *Store) GetUserNamespaces(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT n.name
		FROM namespaces n
		JOIN namespace_users nu ON nu.namespace_id = n.id
		JOIN users u ON u.id = nu.user_id
		WHERE LOWER(u.username) = LOWER($1)
		ORDER BY n.name`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("get user namespaces: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserRegistered reports whether the username or email is already
// taken, checking both case-insensitively in one query.
func (s *Store) UserRegistered(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE LOWER(username) = LOWER($1)) > 0,
			COUNT(*) FILTER (WHERE LOWER(email) = LOWER($2)) > 0
		FROM users
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2)`,
		username, email,
	).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("check registration: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

func (s *Store) CreateUser(ctx context.Context, username, email, pwhash string, registered time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (username, email, pwhash, registered, role)
		VALUES ($1, $2, $3, $4, $5)`,
		username, email, pwhash, registered, model.RoleRegular,
	)
	if err != nil {
		return translate(err, "User")
	}
	return nil
}

// GetUnknownUsers returns the subset of usernames that do not resolve
// to an existing account.
func (s *Store) GetUnknownUsers(ctx context.Context, usernames []string) ([]string, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT username FROM users
		WHERE LOWER(username) = ANY (SELECT LOWER(u) FROM unnest($1::text[]) AS u)`,
		usernames,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		known[lowerKey(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unknown []string
	for _, name := range usernames {
		if _, ok := known[lowerKey(name)]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown, nil
}

// ResolveUserIDs maps usernames to user ids, case-insensitively.
func (s *Store) ResolveUserIDs(ctx context.Context, usernames []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(usernames))
	if len(usernames) == 0 {
		return ids, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, username FROM users
		WHERE LOWER(username) = ANY (SELECT LOWER(u) FROM unnest($1::text[]) AS u)`,
		usernames,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve user ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[lowerKey(name)] = id
	}
	return ids, rows.Err()
}
