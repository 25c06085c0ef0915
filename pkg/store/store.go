/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store is the single source of truth for lab state. All mutations of
// user, deployment, override and catalog rows go through it; the cluster is
// reconciled against it, never the other way around.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	lerrors "github.com/labondemand/labondemand/pkg/errors"
)

type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Role         string    `db:"role"`
	RoleOverride bool      `db:"role_override"`
	ExternalID   *string   `db:"external_id"`
	AuthProvider string    `db:"auth_provider"`
	CreatedAt    time.Time `db:"created_at"`
}

type Deployment struct {
	ID            int64      `db:"id"`
	UserID        int64      `db:"user_id"`
	Name          string     `db:"name"`
	Stack         string     `db:"stack"`
	Namespace     string     `db:"namespace"`
	Status        string     `db:"status"`
	CreatedAt     time.Time  `db:"created_at"`
	LastSeenAt    *time.Time `db:"last_seen_at"`
	DeletedAt     *time.Time `db:"deleted_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	CPURequested  int64      `db:"cpu_requested"`
	MemRequested  int64      `db:"mem_requested"`
	PodsRequested int64      `db:"pods_requested"`
}

type QuotaOverride struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	MaxApps      *int64     `db:"max_apps"`
	MaxCPUMillis *int64     `db:"max_cpu_millis"`
	MaxMemMi     *int64     `db:"max_mem_mi"`
	MaxStorageGi *int64     `db:"max_storage_gi"`
	ExpiresAt    *time.Time `db:"expires_at"`
	CreatedAt    time.Time  `db:"created_at"`
	CreatedBy    *int64     `db:"created_by"`
}

type Template struct {
	ID                 int64     `db:"id"`
	Key                string    `db:"key"`
	DisplayName        string    `db:"display_name"`
	Image              string    `db:"image"`
	Port               int32     `db:"port"`
	ServiceType        string    `db:"service_type"`
	Tags               string    `db:"tags"`
	Active             bool      `db:"active"`
	AllowedForStudents bool      `db:"allowed_for_students"`
	CreatedAt          time.Time `db:"created_at"`
}

type RuntimeConfig struct {
	ID                  int64     `db:"id"`
	Key                 string    `db:"key"`
	MinCPURequestMillis int64     `db:"min_cpu_request_millis"`
	MinCPULimitMillis   int64     `db:"min_cpu_limit_millis"`
	MinMemRequestMi     int64     `db:"min_mem_request_mi"`
	MinMemLimitMi       int64     `db:"min_mem_limit_mi"`
	Active              bool      `db:"active"`
	CreatedAt           time.Time `db:"created_at"`
}

// Usage is the DB-observed resource consumption of a user, computed over
// active deployment rows rather than live pod metrics.
type Usage struct {
	Apps      int64 `db:"apps"`
	CPUMillis int64 `db:"cpu_millis"`
	MemMi     int64 `db:"mem_mi"`
	Pods      int64 `db:"pods"`
}

type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path (":memory:" for tests),
// enables foreign keys and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database, %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// table-lock contention between the reconciler and request handling.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema, %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcp(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.CreatedAt = utc(u.CreatedAt)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (username, role, role_override, external_id, auth_provider, created_at)
		VALUES (:username, :role, :role_override, :external_id, :auth_provider, :created_at)`, u)
	if err != nil {
		return fmt.Errorf("inserting user, %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	if err := s.db.GetContext(ctx, u, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lerrors.NewNotFound("user", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("getting user, %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	u := &User{}
	if err := s.db.GetContext(ctx, u, `SELECT * FROM users WHERE external_id = ?`, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lerrors.NewNotFound("user", externalID)
		}
		return nil, fmt.Errorf("getting user by external id, %w", err)
	}
	return u, nil
}

// UpdateUserRole applies an identity-provider role mapping. Users flagged
// role_override keep their local role.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role v1.Role) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ? AND role_override = 0`, string(role), id)
	if err != nil {
		return fmt.Errorf("updating user role, %w", err)
	}
	return nil
}

// DeleteUser removes the user row; deployment and override rows
// cascade-delete at the SQL level.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("user", fmt.Sprint(id))
	}
	return nil
}

// --- deployments ---

func (s *Store) InsertDeployment(ctx context.Context, d *Deployment) error {
	d.CreatedAt = utc(d.CreatedAt)
	d.ExpiresAt = utcp(d.ExpiresAt)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deployments (user_id, name, stack, namespace, status, created_at, last_seen_at, deleted_at, expires_at, cpu_requested, mem_requested, pods_requested)
		VALUES (:user_id, :name, :stack, :namespace, :status, :created_at, :last_seen_at, :deleted_at, :expires_at, :cpu_requested, :mem_requested, :pods_requested)`, d)
	if err != nil {
		return fmt.Errorf("inserting deployment, %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

// ReviveDeployment returns a soft-deleted row to active with fresh
// accounting. Recreating a lab under a previously used name reuses the row
// because namespace and name are unique together.
func (s *Store) ReviveDeployment(ctx context.Context, d *Deployment) error {
	d.Status = string(v1.StatusActive)
	d.CreatedAt = utc(d.CreatedAt)
	d.ExpiresAt = utcp(d.ExpiresAt)
	d.LastSeenAt = nil
	d.DeletedAt = nil
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE deployments SET status = :status, created_at = :created_at, last_seen_at = NULL,
			deleted_at = NULL, expires_at = :expires_at, cpu_requested = :cpu_requested,
			mem_requested = :mem_requested, pods_requested = :pods_requested
		WHERE id = :id`, d)
	if err != nil {
		return fmt.Errorf("reviving deployment, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("deployment", fmt.Sprint(d.ID))
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, namespace, name string) (*Deployment, error) {
	d := &Deployment{}
	if err := s.db.GetContext(ctx, d, `SELECT * FROM deployments WHERE namespace = ? AND name = ?`, namespace, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lerrors.NewNotFound("deployment", fmt.Sprintf("%s/%s", namespace, name))
		}
		return nil, fmt.Errorf("getting deployment, %w", err)
	}
	return d, nil
}

func (s *Store) ListDeploymentsByUser(ctx context.Context, userID int64) ([]Deployment, error) {
	var out []Deployment
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM deployments WHERE user_id = ? AND status != ? ORDER BY created_at`, userID, string(v1.StatusDeleted)); err != nil {
		return nil, fmt.Errorf("listing deployments, %w", err)
	}
	return out, nil
}

// ObservedUsage aggregates the active rows of a user for logical admission.
func (s *Store) ObservedUsage(ctx context.Context, userID int64) (Usage, error) {
	var u Usage
	if err := s.db.GetContext(ctx, &u, `
		SELECT COUNT(*) AS apps,
		       COALESCE(SUM(cpu_requested), 0) AS cpu_millis,
		       COALESCE(SUM(mem_requested), 0) AS mem_mi,
		       COALESCE(SUM(pods_requested), 0) AS pods
		FROM deployments WHERE user_id = ? AND status = ?`, userID, string(v1.StatusActive)); err != nil {
		return Usage{}, fmt.Errorf("aggregating usage, %w", err)
	}
	return u, nil
}

// MarkPaused records a pause. last_seen_at starts the grace-period clock.
func (s *Store) MarkPaused(ctx context.Context, id int64, now time.Time) error {
	return s.setStatus(ctx, id, `UPDATE deployments SET status = ?, last_seen_at = ? WHERE id = ?`, string(v1.StatusPaused), utc(now), id)
}

func (s *Store) MarkActive(ctx context.Context, id int64, now time.Time) error {
	return s.setStatus(ctx, id, `UPDATE deployments SET status = ?, last_seen_at = ? WHERE id = ?`, string(v1.StatusActive), utc(now), id)
}

func (s *Store) MarkDeleted(ctx context.Context, id int64, now time.Time) error {
	return s.setStatus(ctx, id, `UPDATE deployments SET status = ?, deleted_at = ? WHERE id = ?`, string(v1.StatusDeleted), utc(now), id)
}

func (s *Store) setStatus(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating deployment status, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("deployment", fmt.Sprint(id))
	}
	return nil
}

func (s *Store) SetExpiresAt(ctx context.Context, id int64, expiresAt *time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE deployments SET expires_at = ? WHERE id = ?`, utcp(expiresAt), id); err != nil {
		return fmt.Errorf("setting expires_at, %w", err)
	}
	return nil
}

// ListExpired returns active rows whose expiry has passed.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]Deployment, error) {
	var out []Deployment
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM deployments WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(v1.StatusActive), utc(now)); err != nil {
		return nil, fmt.Errorf("listing expired deployments, %w", err)
	}
	return out, nil
}

// ListGraceExpired returns paused rows whose grace period ran out at cutoff.
func (s *Store) ListGraceExpired(ctx context.Context, cutoff time.Time) ([]Deployment, error) {
	var out []Deployment
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM deployments WHERE status = ? AND last_seen_at IS NOT NULL AND last_seen_at <= ?`,
		string(v1.StatusPaused), utc(cutoff)); err != nil {
		return nil, fmt.Errorf("listing grace-expired deployments, %w", err)
	}
	return out, nil
}

// ListMissingExpiry returns active rows with no expiry for the backfill
// phase. Admin-owned rows are the caller's job to filter.
func (s *Store) ListMissingExpiry(ctx context.Context) ([]Deployment, error) {
	var out []Deployment
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM deployments WHERE status = ? AND expires_at IS NULL`, string(v1.StatusActive)); err != nil {
		return nil, fmt.Errorf("listing deployments missing expiry, %w", err)
	}
	return out, nil
}

// CountNonDeletedByUser backs Guard A of the orphan namespace sweep.
func (s *Store) CountNonDeletedByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM deployments WHERE user_id = ? AND status != ?`, userID, string(v1.StatusDeleted)); err != nil {
		return 0, fmt.Errorf("counting deployments, %w", err)
	}
	return n, nil
}

// --- quota overrides ---

// UpsertOverride sets the at-most-one override row of a user.
func (s *Store) UpsertOverride(ctx context.Context, o *QuotaOverride) error {
	o.CreatedAt = utc(o.CreatedAt)
	o.ExpiresAt = utcp(o.ExpiresAt)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_quota_overrides (user_id, max_apps, max_cpu_millis, max_mem_mi, max_storage_gi, expires_at, created_at, created_by)
		VALUES (:user_id, :max_apps, :max_cpu_millis, :max_mem_mi, :max_storage_gi, :expires_at, :created_at, :created_by)
		ON CONFLICT (user_id) DO UPDATE SET
			max_apps = excluded.max_apps,
			max_cpu_millis = excluded.max_cpu_millis,
			max_mem_mi = excluded.max_mem_mi,
			max_storage_gi = excluded.max_storage_gi,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			created_by = excluded.created_by`, o)
	if err != nil {
		return fmt.Errorf("upserting quota override, %w", err)
	}
	return nil
}

// GetOverride returns nil without error when the user has no override row.
func (s *Store) GetOverride(ctx context.Context, userID int64) (*QuotaOverride, error) {
	o := &QuotaOverride{}
	if err := s.db.GetContext(ctx, o, `SELECT * FROM user_quota_overrides WHERE user_id = ?`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting quota override, %w", err)
	}
	return o, nil
}

func (s *Store) DeleteOverride(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_quota_overrides WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting quota override, %w", err)
	}
	return nil
}

// --- templates ---

func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	t.CreatedAt = utc(t.CreatedAt)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO templates (key, display_name, image, port, service_type, tags, active, allowed_for_students, created_at)
		VALUES (:key, :display_name, :image, :port, :service_type, :tags, :active, :allowed_for_students, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("inserting template, %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// UpdateTemplate edits everything but the key; keys are immutable once
// created.
func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE templates SET display_name = :display_name, image = :image, port = :port,
			service_type = :service_type, tags = :tags, active = :active,
			allowed_for_students = :allowed_for_students
		WHERE key = :key`, t)
	if err != nil {
		return fmt.Errorf("updating template, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("template", t.Key)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, key string) (*Template, error) {
	t := &Template{}
	if err := s.db.GetContext(ctx, t, `SELECT * FROM templates WHERE key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lerrors.NewNotFound("template", key)
		}
		return nil, fmt.Errorf("getting template, %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]Template, error) {
	query := `SELECT * FROM templates ORDER BY key`
	if activeOnly {
		query = `SELECT * FROM templates WHERE active = 1 ORDER BY key`
	}
	var out []Template
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("listing templates, %w", err)
	}
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting template, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("template", key)
	}
	return nil
}

// --- runtime configs ---

func (s *Store) CreateRuntimeConfig(ctx context.Context, rc *RuntimeConfig) error {
	rc.CreatedAt = utc(rc.CreatedAt)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runtime_configs (key, min_cpu_request_millis, min_cpu_limit_millis, min_mem_request_mi, min_mem_limit_mi, active, created_at)
		VALUES (:key, :min_cpu_request_millis, :min_cpu_limit_millis, :min_mem_request_mi, :min_mem_limit_mi, :active, :created_at)`, rc)
	if err != nil {
		return fmt.Errorf("inserting runtime config, %w", err)
	}
	rc.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateRuntimeConfig(ctx context.Context, rc *RuntimeConfig) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE runtime_configs SET min_cpu_request_millis = :min_cpu_request_millis,
			min_cpu_limit_millis = :min_cpu_limit_millis, min_mem_request_mi = :min_mem_request_mi,
			min_mem_limit_mi = :min_mem_limit_mi, active = :active
		WHERE key = :key`, rc)
	if err != nil {
		return fmt.Errorf("updating runtime config, %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lerrors.NewNotFound("runtime config", rc.Key)
	}
	return nil
}

func (s *Store) GetRuntimeConfig(ctx context.Context, key string) (*RuntimeConfig, error) {
	rc := &RuntimeConfig{}
	if err := s.db.GetContext(ctx, rc, `SELECT * FROM runtime_configs WHERE key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lerrors.NewNotFound("runtime config", key)
		}
		return nil, fmt.Errorf("getting runtime config, %w", err)
	}
	return rc, nil
}

func (s *Store) ListRuntimeConfigs(ctx context.Context, activeOnly bool) ([]RuntimeConfig, error) {
	query := `SELECT * FROM runtime_configs ORDER BY key`
	if activeOnly {
		query = `SELECT * FROM runtime_configs WHERE active = 1 ORDER BY key`
	}
	var out []RuntimeConfig
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("listing runtime configs, %w", err)
	}
	return out, nil
}
