package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	testID = "6f1c2f8e-5d0a-4f7e-9a8b-1c2d3e4f5a6b"

	qSelectByID       = `(?s)^SELECT\s+id,\s*username,\s*email,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s+LIMIT\s+1$`
	qSelectByUsername = `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s+LIMIT\s+1$`
	qSelectByEither   = `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s+OR\s+email\s*=\s*\$2\s+ORDER\s+BY\s+\(username\s*=\s*\$1\)\s+DESC\s+LIMIT\s+1$`
	qHistory          = `(?s)^SELECT\s+video_id\s+FROM\s+watch_history\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+watched_at,\s*video_id\s*$`
	qInsert           = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*username,\s*email,\s*full_name,\s*password_hash,\s*avatar_url,\s*cover_image_url\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*RETURNING\s+created_at,\s*updated_at\s*$`
	qRotate           = `(?s)^UPDATE\s+users\s+SET\s+refresh_token\s*=\s*\$1,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$2\s+AND\s+refresh_token\s*=\s*\$3\s*$`
	qSetToken         = `(?s)^UPDATE\s+users\s+SET\s+refresh_token\s*=\s*\$1,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$2\s*$`
	qClearToken       = `(?s)^UPDATE\s+users\s+SET\s+refresh_token\s*=\s*NULL,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s*$`
	qPassword         = `(?s)^UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$1,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$2\s*$`
	qUpdateDetails    = `(?s)^UPDATE\s+users\s+SET\s+full_name\s*=\s*COALESCE\(NULLIF\(\$2,\s*''\),\s*full_name\),\s*email\s*=\s*COALESCE\(NULLIF\(\$3,\s*''\),\s*email\),\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s+RETURNING\s+id,.*$`
	qUpdateAvatar     = `(?s)^UPDATE\s+users\s+SET\s+avatar_url\s*=\s*\$2,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s+RETURNING\s+id,.*$`
	qUpdateCover      = `(?s)^UPDATE\s+users\s+SET\s+cover_image_url\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1\s+RETURNING\s+id,.*$`
)

var ts = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "email", "full_name", "password_hash",
		"avatar_url", "cover_image_url", "refresh_token", "created_at", "updated_at"}).
		AddRow(testID, "alice", "alice@example.com", "Alice", "$2a$10$hash",
			"https://cdn/a.png", "", "rt-1", ts, ts)
}

func historyRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"video_id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", "Alice", "hash", "https://cdn/a.png", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))

	a := &models.Account{Username: "alice", Email: "alice@example.com", FullName: "Alice",
		PasswordHash: "hash", AvatarURL: "https://cdn/a.png"}
	got, err := repo.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID == "" || !got.CreatedAt.Equal(ts) || got.WatchHistory == nil {
		t.Fatalf("unexpected account: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).WillReturnError(uniqueViolation())

	_, err := repo.Create(context.Background(), &models.Account{ID: testID, Username: "alice"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Account{Username: "alice"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qSelectByID).WithArgs(testID).WillReturnRows(accountRows())
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows("v1", "v2"))

	got, err := repo.FindByID(context.Background(), testID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got.Username != "alice" || got.RefreshToken != "rt-1" || len(got.WatchHistory) != 2 || got.WatchHistory[1] != "v2" {
		t.Fatalf("unexpected account: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qSelectByID).WithArgs(testID).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), testID)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestFindByID_InvalidUUIDSkipsQuery(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.FindByID(context.Background(), "not-a-uuid")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}

func TestFindByUsername_HistoryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qSelectByUsername).WithArgs("alice").WillReturnRows(accountRows())
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnError(errors.New("db err"))

	_, err := repo.FindByUsername(context.Background(), "alice")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByUsernameOrEmail(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qSelectByEither).WithArgs("bob", "alice@example.com").WillReturnRows(accountRows())
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows())

	got, err := repo.FindByUsernameOrEmail(context.Background(), "bob", "alice@example.com")
	if err != nil {
		t.Fatalf("FindByUsernameOrEmail error: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("unexpected account: %+v", got)
	}

	if _, err := repo.FindByUsernameOrEmail(context.Background(), "", ""); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("empty identifiers must not match, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshToken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qRotate).WithArgs("new", testID, "old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qRotate).WithArgs("newer", testID, "old").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RotateRefreshToken(context.Background(), testID, "old", "new"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	err := repo.RotateRefreshToken(context.Background(), testID, "old", "newer")
	if !errors.Is(err, common.ErrorRefreshTokenMismatch) {
		t.Fatalf("want common.ErrorRefreshTokenMismatch, got %v", err)
	}
}

func TestSetAndClearRefreshToken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qSetToken).WithArgs("tok", testID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qClearToken).WithArgs(testID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qClearToken).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(qSetToken).WithArgs("tok", testID).WillReturnError(errors.New("db err"))

	if err := repo.SetRefreshToken(context.Background(), testID, "tok"); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}
	if err := repo.ClearRefreshToken(context.Background(), testID); err != nil {
		t.Fatalf("ClearRefreshToken: %v", err)
	}
	if err := repo.ClearRefreshToken(context.Background(), "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
	err := repo.SetRefreshToken(context.Background(), testID, "tok")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qPassword).WithArgs("new-hash", testID).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePassword(context.Background(), testID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
}

func TestUpdateDetails(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qUpdateDetails).WithArgs(testID, "Alice", "").WillReturnRows(accountRows())
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows("v1"))
	mock.ExpectQuery(qUpdateDetails).WithArgs(testID, "", "taken@example.com").WillReturnError(uniqueViolation())

	got, err := repo.UpdateDetails(context.Background(), testID, "Alice", "")
	if err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	if got.FullName != "Alice" || len(got.WatchHistory) != 1 {
		t.Fatalf("unexpected account: %+v", got)
	}

	_, err = repo.UpdateDetails(context.Background(), testID, "", "taken@example.com")
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestUpdateAvatarAndCover(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qUpdateAvatar).WithArgs(testID, "https://cdn/new.png").WillReturnRows(accountRows())
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows())
	mock.ExpectQuery(qUpdateCover).WithArgs(testID, "https://cdn/cover.png").WillReturnError(sql.ErrNoRows)

	if _, err := repo.UpdateAvatar(context.Background(), testID, "https://cdn/new.png"); err != nil {
		t.Fatalf("UpdateAvatar: %v", err)
	}
	_, err := repo.UpdateCoverImage(context.Background(), testID, "https://cdn/cover.png")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestWatchHistory(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows("v3", "v1", "v2"))
	mock.ExpectQuery(qHistory).WithArgs(testID).WillReturnRows(historyRows())

	got, err := repo.WatchHistory(context.Background(), testID)
	if err != nil {
		t.Fatalf("WatchHistory: %v", err)
	}
	if len(got) != 3 || got[0] != "v3" || got[2] != "v2" {
		t.Fatalf("order not preserved: %v", got)
	}

	got, err = repo.WatchHistory(context.Background(), testID)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil history, got %v, %v", got, err)
	}
}
