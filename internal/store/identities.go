// ABOUTME: Identity reference lookups used to resolve participants and search for recipients
// ABOUTME: Rows are owned by the account system; UpsertIdentity exists for syncing them in

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const identityColumns = `id, display_name, email, role, is_verified, avatar_url, created_at`

func scanIdentity(row rowScanner) (*Identity, error) {
	var ident Identity
	var role string
	err := row.Scan(
		&ident.ID,
		&ident.DisplayName,
		&ident.Email,
		&role,
		&ident.IsVerified,
		&ident.AvatarURL,
		dbTime{&ident.CreatedAt},
	)
	if err != nil {
		return nil, err
	}
	ident.Role = Role(role)
	return &ident, nil
}

// GetIdentity retrieves an identity by ID.
func (s *SQLStore) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE id = ?
	`, id)

	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return ident, nil
}

// GetIdentityByEmail retrieves an identity by email, ignoring case.
func (s *SQLStore) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE lower(email) = lower(?)
	`, strings.TrimSpace(email))

	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity by email: %w", err)
	}
	return ident, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchIdentities matches query against display name or email, case
// insensitively, leaving out excludeID.
func (s *SQLStore) SearchIdentities(ctx context.Context, query string, excludeID int64, limit int) ([]*Identity, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"

	rows, err := s.query(ctx, s.db, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE id <> ?
			AND (display_name `+s.dialect.likeOp+` ? ESCAPE '\'
				OR email `+s.dialect.likeOp+` ? ESCAPE '\')
		ORDER BY display_name ASC, id ASC
		LIMIT ?
	`, excludeID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching identities: %w", err)
	}
	defer rows.Close()

	results := []*Identity{}
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		results = append(results, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return results, nil
}

// UpsertIdentity inserts or refreshes an identity reference row.
func (s *SQLStore) UpsertIdentity(ctx context.Context, ident *Identity) error {
	if ident.ID <= 0 {
		return fmt.Errorf("identity id must be positive")
	}
	if !ident.Role.Valid() {
		return fmt.Errorf("invalid role %q", ident.Role)
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = s.now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO identities (id, display_name, email, role, is_verified, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			role = excluded.role,
			is_verified = excluded.is_verified,
			avatar_url = excluded.avatar_url
	`, ident.ID, ident.DisplayName, ident.Email, string(ident.Role), ident.IsVerified, ident.AvatarURL, s.ts(ident.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting identity: %w", err)
	}

	s.logger.Debug("upserted identity", "id", ident.ID, "role", ident.Role)
	return nil
}
