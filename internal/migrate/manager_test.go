package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/migrations/0001_init.up.sql":   {Data: []byte("create table a (id text);\ncreate table b (note text default 'x;y');")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("drop table b; drop table a;")},
		"sql/migrations/0002_more.up.sql":   {Data: []byte("alter table a add column n int;")},
		"sql/seeds/0001_rows.sql":           {Data: []byte("insert into a (id) values ('1');")},
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`alter table a add column n int`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, testFS()).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table b`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	_, err = NewManager(db, testFS()).Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_init.up.sql") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, testFS()).Down(context.Background())
	if err != nil || name != "0001_init.up.sql" {
		t.Fatalf("Down: name=%s err=%v", name, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	if _, err := NewManager(db, testFS()).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_seeds`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_rows.sql"))

	applied, err := NewManager(db, testFS()).Seed(context.Background())
	if err != nil || len(applied) != 0 {
		t.Fatalf("Seed: applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	pending, err := NewManager(db, testFS()).Pending(context.Background())
	if err != nil || len(pending) != 1 || pending[0] != "0002_more.up.sql" {
		t.Fatalf("Pending: %v err=%v", pending, err)
	}
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	files, err := collectSQL(Embedded(), defaultMigrationsDir, ".up.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("embedded migrations: %v err=%v", files, err)
	}
	for _, f := range files {
		down := strings.TrimSuffix(f.Path, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Embedded(), down); err != nil {
			t.Fatalf("%s has no down migration", f.Base)
		}
	}
	up, err := fs.ReadFile(Embedded(), files[0].Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"users", "clients", "roles", "permissions", "user_roles", "role_permissions", "client_permissions", "refresh_tokens"} {
		if !strings.Contains(string(up), "create table if not exists "+table+" (") {
			t.Fatalf("schema lacks table %s", table)
		}
	}
	seeds, err := collectSQL(Embedded(), defaultSeedsDir, ".sql")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("embedded seeds: %v err=%v", seeds, err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a;b 'c;d';\n  ")
	if len(got) != 2 || got[1] != "b 'c;d';" {
		t.Fatalf("unexpected split %q", got)
	}
}
