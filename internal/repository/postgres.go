package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// Compile-time interface assertions.
var (
	_ SettingsStore         = (*PostgresSettingsStore)(nil)
	_ RestrictionRepository = (*PostgresRestrictionRepo)(nil)
	_ VisitorRepository     = (*PostgresVisitorRepo)(nil)
)

// PostgresSettingsStore implements the durable settings KV on a single table.
type PostgresSettingsStore struct {
	db *pgxpool.Pool
}

func NewPostgresSettingsStore(pool *pgxpool.Pool) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: pool}
}

func (s *PostgresSettingsStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresSettingsStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresSettingsStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// PostgresRestrictionRepo stores per-content restriction sets. is_restricted
// doubles as the sweep registry: RestrictedIDs selects on it.
type PostgresRestrictionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRestrictionRepo(pool *pgxpool.Pool) *PostgresRestrictionRepo {
	return &PostgresRestrictionRepo{db: pool}
}

func (r *PostgresRestrictionRepo) Get(ctx context.Context, contentID int64) (domain.ContentRestriction, error) {
	var (
		levelIDs []int64
		groupIDs []int64
		isRestr  bool
	)
	err := r.db.QueryRow(ctx,
		`SELECT level_ids, group_ids, is_restricted FROM content_restrictions WHERE content_id = $1`,
		contentID,
	).Scan(&levelIDs, &groupIDs, &isRestr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ContentRestriction{}, domain.ErrNotFound
		}
		return domain.ContentRestriction{}, fmt.Errorf("get restriction %d: %w", contentID, err)
	}
	return domain.ContentRestriction{
		ContentID:    contentID,
		LevelIDs:     domain.NewIDSet(levelIDs...),
		GroupIDs:     domain.NewIDSet(groupIDs...),
		IsRestricted: isRestr,
	}, nil
}

func (r *PostgresRestrictionRepo) Save(ctx context.Context, restriction domain.ContentRestriction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO content_restrictions (content_id, level_ids, group_ids, is_restricted)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (content_id) DO UPDATE
		 SET level_ids = EXCLUDED.level_ids, group_ids = EXCLUDED.group_ids,
		     is_restricted = EXCLUDED.is_restricted, updated_at = now()`,
		restriction.ContentID,
		restriction.LevelIDs.Slice(),
		restriction.GroupIDs.Slice(),
		restriction.IsRestricted,
	)
	if err != nil {
		return fmt.Errorf("save restriction %d: %w", restriction.ContentID, err)
	}
	return nil
}

func (r *PostgresRestrictionRepo) Delete(ctx context.Context, contentID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM content_restrictions WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("delete restriction %d: %w", contentID, err)
	}
	return nil
}

func (r *PostgresRestrictionRepo) RestrictedIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT content_id FROM content_restrictions WHERE is_restricted ORDER BY content_id`)
	if err != nil {
		return nil, fmt.Errorf("list restricted ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan restricted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restricted ids: %w", err)
	}
	return ids, nil
}

// PostgresVisitorRepo mirrors visitor membership attributes and roles.
type PostgresVisitorRepo struct {
	db *pgxpool.Pool
}

func NewPostgresVisitorRepo(pool *pgxpool.Pool) *PostgresVisitorRepo {
	return &PostgresVisitorRepo{db: pool}
}

func (r *PostgresVisitorRepo) Get(ctx context.Context, visitorID int64) (domain.VisitorSnapshot, error) {
	var (
		levelID  *int64
		groupIDs []int64
		status   string
		synced   bool
		isAdmin  bool
		roles    []string
	)
	err := r.db.QueryRow(ctx,
		`SELECT membership_level_id, group_ids, status, synced, is_admin, roles
		 FROM visitors WHERE id = $1`,
		visitorID,
	).Scan(&levelID, &groupIDs, &status, &synced, &isAdmin, &roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VisitorSnapshot{}, domain.ErrNotFound
		}
		return domain.VisitorSnapshot{}, fmt.Errorf("get visitor %d: %w", visitorID, err)
	}
	return domain.VisitorSnapshot{
		ID:       visitorID,
		LevelID:  levelID,
		GroupIDs: domain.NewIDSet(groupIDs...),
		Status:   status,
		Synced:   synced,
		IsAdmin:  isAdmin,
		Roles:    roles,
	}, nil
}

func (r *PostgresVisitorRepo) Save(ctx context.Context, visitor domain.VisitorSnapshot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO visitors (id, membership_level_id, group_ids, status, synced, is_admin, roles)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET membership_level_id = EXCLUDED.membership_level_id,
		     group_ids = EXCLUDED.group_ids, status = EXCLUDED.status,
		     synced = EXCLUDED.synced, is_admin = EXCLUDED.is_admin,
		     roles = EXCLUDED.roles, updated_at = now()`,
		visitor.ID,
		visitor.LevelID,
		visitor.GroupIDs.Slice(),
		visitor.Status,
		visitor.Synced,
		visitor.IsAdmin,
		visitor.Roles,
	)
	if err != nil {
		return fmt.Errorf("save visitor %d: %w", visitor.ID, err)
	}
	return nil
}

// DowngradeLevel strips the level role and detaches the level from every
// non-admin visitor holding it. Administrators are never downgraded.
func (r *PostgresVisitorRepo) DowngradeLevel(ctx context.Context, levelID int64) error {
	role := domain.LevelRole(levelID)
	_, err := r.db.Exec(ctx,
		`UPDATE visitors
		 SET membership_level_id = NULL,
		     roles = array_remove(roles, $2),
		     updated_at = now()
		 WHERE membership_level_id = $1 AND NOT is_admin`,
		levelID, role,
	)
	if err != nil {
		return fmt.Errorf("downgrade level %d: %w", levelID, err)
	}
	return nil
}
