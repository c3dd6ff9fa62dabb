package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "uuid, name, account_type, roles, online, last_join, last_seen, last_leave, ip"

// PGStore is the reference Client implementation, persisting presence records as rows in PostgreSQL.
type PGStore struct {
	db  querier
	log zerolog.Logger
}

// NewPGStore creates a PostgreSQL-backed presence store.
func NewPGStore(db *pgxpool.Pool, logger zerolog.Logger) *PGStore {
	return &PGStore{db: db, log: logger}
}

func (s *PGStore) MarkOnline(ctx context.Context, params MarkOnlineParams) error {
	now := time.Now().UnixMilli()

	_, err := s.db.Exec(ctx, `
		INSERT INTO presence_records (uuid, name, account_type, roles, online, last_join, last_seen, ip)
		VALUES (@uuid, @name, @account_type, COALESCE(@roles::text[], '{MEMBER}'), true, @now, @now, @ip)
		ON CONFLICT (uuid) DO UPDATE SET
			name = @name,
			account_type = @account_type,
			online = true,
			last_seen = @now,
			ip = @ip,
			roles = CASE WHEN @has_roles THEN @roles ELSE presence_records.roles END
	`, pgx.NamedArgs{
		"uuid":         params.UUID,
		"name":         params.Name,
		"account_type": params.AccountType,
		"roles":        params.RolesToPersist,
		"has_roles":    params.RolesToPersist != nil,
		"now":          now,
		"ip":           params.IP,
	})
	if err != nil {
		return fmt.Errorf("mark online for %s: %w", params.UUID, err)
	}
	return nil
}

func (s *PGStore) MarkOffline(ctx context.Context, uuid string) error {
	now := time.Now().UnixMilli()

	_, err := s.db.Exec(ctx, `
		INSERT INTO presence_records (uuid, name, account_type, roles, online, last_leave)
		VALUES (@uuid, 'Unknown', 'LOCAL', '{MEMBER}', false, @now)
		ON CONFLICT (uuid) DO UPDATE SET online = false, last_leave = @now
	`, pgx.NamedArgs{"uuid": uuid, "now": now})
	if err != nil {
		return fmt.Errorf("mark offline for %s: %w", uuid, err)
	}
	return nil
}

func (s *PGStore) UpdateLastSeen(ctx context.Context, uuid string) error {
	now := time.Now().UnixMilli()

	_, err := s.db.Exec(ctx, `
		INSERT INTO presence_records (uuid, name, account_type, roles, online, last_seen)
		VALUES (@uuid, 'Unknown', 'LOCAL', '{MEMBER}', true, @now)
		ON CONFLICT (uuid) DO UPDATE SET online = true, last_seen = @now
	`, pgx.NamedArgs{"uuid": uuid, "now": now})
	if err != nil {
		return fmt.Errorf("update last_seen for %s: %w", uuid, err)
	}
	return nil
}

func (s *PGStore) UpdateRoles(ctx context.Context, uuid string, roles []string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO presence_records (uuid, name, account_type, roles, online)
		VALUES (@uuid, 'Unknown', 'LOCAL', @roles, false)
		ON CONFLICT (uuid) DO UPDATE SET roles = @roles
	`, pgx.NamedArgs{"uuid": uuid, "roles": roles})
	if err != nil {
		return fmt.Errorf("update roles for %s: %w", uuid, err)
	}
	return nil
}

func (s *PGStore) FetchRoles(ctx context.Context, uuid string) ([]string, error) {
	var roles []string
	err := s.db.QueryRow(ctx, "SELECT roles FROM presence_records WHERE uuid = $1", uuid).Scan(&roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch roles for %s: %w", uuid, err)
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return roles, nil
}

func (s *PGStore) FetchOnlineUsers(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM presence_records WHERE online = true ORDER BY last_seen DESC LIMIT $1", selectColumns,
	), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch online users: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan presence record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch online users: %w", err)
	}
	return out, nil
}

func (s *PGStore) CountOnlineUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, "SELECT count(*) FROM presence_records WHERE online = true").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count online users: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Rows) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.UUID, &rec.Name, &rec.AccountType, &rec.Roles, &rec.Online, &rec.LastJoin, &rec.LastSeen, &rec.LastLeave, &rec.IP,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
