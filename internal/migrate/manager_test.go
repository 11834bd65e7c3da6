package migrate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table a (x int);\ninsert into a values (1);")},
		"sql/0001_init.down.sql": {Data: []byte("drop table a;")},
		"sql/0002_more.up.sql":   {Data: []byte("create table b (note text default 'x;y');")},
		"sql/0002_more.down.sql": {Data: []byte("drop table b;")},
		"sql/README.md":          {Data: []byte("ignored")},
		"sql/nested/0003.up.sql": {Data: []byte("ignored")},
	}
}

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, testFS(), "sql"), mock
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (note text default 'x;y');")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_more.up.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into a").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be recorded, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql").AddRow("0002_more.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_more.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_more.up.sql" {
		t.Fatalf("unexpected rollback: %s", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a;\n insert into t values ('x;y'); b")
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if got[1] != "\n insert into t values ('x;y');" {
		t.Fatalf("unexpected second statement: %q", got[1])
	}
}
