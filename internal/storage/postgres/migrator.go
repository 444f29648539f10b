package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const migrationsGlob = "sql/migrations/*.sql"

// migrationLockKey: ключ pg_advisory_lock ("mktplace" в ASCII).
const migrationLockKey = int64(0x6d6b74706c616365)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var migrationFileName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// migrationStep: одна миграция в выбранном направлении.
type migrationStep struct {
	migration
	direction migrationDirection
}

func (s migrationStep) body() string {
	if s.direction == migrationDown {
		return s.DownSQL
	}
	return s.UpSQL
}

func (s migrationStep) record(ctx context.Context, tx *sql.Tx) error {
	if s.direction == migrationDown {
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, s.Version)
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
		s.Version, s.Name)
	return err
}

// MigrateUp применяет не более steps миграций; 0 означает все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	// Version: старшая применённая миграция, 0 для пустой схемы.
	Version int64
	Applied int
	Pending int
}

func (m MigrationState) UpToDate() bool {
	return m.Pending == 0
}

// MigrationStatus сверяет schema_migrations с миграциями, собранными в бинарник.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}

	known, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(queryCtx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1]
	}
	state.Pending = pendingCount(known, versionSet(applied))
	return state, nil
}

var errStoreNotInitialized = errors.New("postgres store is not initialized")

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	known, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	plan, err := planMigrations(direction, known, applied, steps)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if err := runMigrationStep(ctx, conn, step); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает шаги: для up по возрастанию версий среди
// неприменённых, для down по убыванию среди применённых.
func planMigrations(direction migrationDirection, known []migration, applied []int64, steps int) ([]migrationStep, error) {
	var plan []migrationStep
	full := func() bool { return steps > 0 && len(plan) >= steps }

	switch direction {
	case migrationUp:
		done := versionSet(applied)
		for _, m := range known {
			if full() {
				break
			}
			if !done[m.Version] {
				plan = append(plan, migrationStep{migration: m, direction: migrationUp})
			}
		}
	case migrationDown:
		index := make(map[int64]migration, len(known))
		for _, m := range known {
			index[m.Version] = m
		}
		for i := len(applied) - 1; i >= 0 && !full(); i-- {
			m, ok := index[applied[i]]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
			}
			plan = append(plan, migrationStep{migration: m, direction: migrationDown})
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}
	return plan, nil
}

func runMigrationStep(ctx context.Context, conn *sql.Conn, step migrationStep) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", step.direction, step.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, step.body()); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", step.direction, step.label(), err)
	}
	if err = step.record(ctx, tx); err != nil {
		return fmt.Errorf("record %s migration %s: %w", step.direction, step.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", step.direction, step.label(), err)
	}
	return nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func versionSet(versions []int64) map[int64]bool {
	set := make(map[int64]bool, len(versions))
	for _, v := range versions {
		set[v] = true
	}
	return set
}

func pendingCount(known []migration, applied map[int64]bool) int {
	pending := 0
	for _, m := range known {
		if !applied[m.Version] {
			pending++
		}
	}
	return pending
}

// loadMigrationsFromFS собирает пары up/down и сортирует их по версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationFileName(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		switch {
		case !ok:
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		default:
			return 0
		}
	})
	return result, nil
}

func parseMigrationFileName(base string) (int64, string, migrationDirection, error) {
	match := migrationFileName.FindStringSubmatch(base)
	if match == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, match[2], migrationDirection(match[3]), nil
}
