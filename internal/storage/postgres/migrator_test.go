package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFiles(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	known, err := loadMigrationsFromFS(migrationFiles(map[string]string{
		"0010_stock_alerts.up.sql":   "CREATE INDEX idx ON products (stock);",
		"0010_stock_alerts.down.sql": "DROP INDEX IF EXISTS idx;",
		"0002_carts.up.sql":          "CREATE TABLE carts (id TEXT);",
		"0002_carts.down.sql":        "DROP TABLE IF EXISTS carts;",
	}))
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(known))
	}
	if known[0].label() != "0002_carts" || known[1].label() != "0010_stock_alerts" {
		t.Fatalf("unexpected order: %s, %s", known[0].label(), known[1].label())
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		files map[string]string
		want  string
	}{
		"missing down": {
			files: map[string]string{"0001_init.up.sql": "CREATE TABLE a (id INT);"},
			want:  "both up and down",
		},
		"bad name": {
			files: map[string]string{"init.sql": "SELECT 1;"},
			want:  "invalid migration file name",
		},
		"blank body": {
			files: map[string]string{
				"0001_init.up.sql":   "  \n",
				"0001_init.down.sql": "DROP TABLE a;",
			},
			want: "empty",
		},
		"name mismatch": {
			files: map[string]string{
				"0001_init.up.sql":    "CREATE TABLE a (id INT);",
				"0001_other.down.sql": "DROP TABLE a;",
			},
			want: "name mismatch",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrationsFromFS(migrationFiles(tc.files))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	t.Parallel()

	known, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(known))
	}
	if !strings.Contains(known[0].UpSQL, "CREATE TABLE IF NOT EXISTS orders") {
		t.Fatal("init migration must create orders table")
	}
	if known[1].Name != "idempotency_keys" {
		t.Fatalf("unexpected second migration %q", known[1].Name)
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	known := []migration{
		{Version: 1, Name: "init"},
		{Version: 2, Name: "carts"},
		{Version: 3, Name: "alerts"},
	}

	versions := func(plan []migrationStep) []int64 {
		out := make([]int64, 0, len(plan))
		for _, step := range plan {
			out = append(out, step.Version)
		}
		return out
	}

	cases := []struct {
		name      string
		direction migrationDirection
		applied   []int64
		steps     int
		want      []int64
	}{
		{name: "up all", direction: migrationUp, applied: []int64{1}, steps: 0, want: []int64{2, 3}},
		{name: "up limited", direction: migrationUp, applied: nil, steps: 2, want: []int64{1, 2}},
		{name: "up nothing", direction: migrationUp, applied: []int64{1, 2, 3}, steps: 0, want: []int64{}},
		{name: "down newest first", direction: migrationDown, applied: []int64{1, 2, 3}, steps: 2, want: []int64{3, 2}},
		{name: "down empty", direction: migrationDown, applied: nil, steps: 1, want: []int64{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan, err := planMigrations(tc.direction, known, tc.applied, tc.steps)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			got := versions(plan)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
				if plan[i].direction != tc.direction {
					t.Fatalf("unexpected step direction %s", plan[i].direction)
				}
			}
		})
	}
}

func TestPlanMigrations_Errors(t *testing.T) {
	t.Parallel()

	known := []migration{{Version: 1, Name: "init"}}
	if _, err := planMigrations(migrationDown, known, []int64{1, 7}, 1); err == nil || !strings.Contains(err.Error(), "unknown migration version 7") {
		t.Fatalf("expected unknown version error, got %v", err)
	}
	if _, err := planMigrations("sideways", known, nil, 0); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}

func TestMigrationStepBody(t *testing.T) {
	t.Parallel()

	m := migration{Version: 4, Name: "x", UpSQL: "CREATE", DownSQL: "DROP"}
	if got := (migrationStep{migration: m, direction: migrationUp}).body(); got != "CREATE" {
		t.Fatalf("unexpected up body %q", got)
	}
	if got := (migrationStep{migration: m, direction: migrationDown}).body(); got != "DROP" {
		t.Fatalf("unexpected down body %q", got)
	}
	if got := pendingCount([]migration{m, {Version: 5}}, map[int64]bool{4: true}); got != 1 {
		t.Fatalf("expected 1 pending, got %d", got)
	}
}
