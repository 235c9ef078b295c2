package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/dbx"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `id, username, email, full_name, password_hash, avatar_url, cover_image_url, COALESCE(refresh_token, ''), created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.PasswordHash,
		&a.AvatarURL, &a.CoverImageURL, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		if isUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO users (id, username, email, full_name, password_hash, avatar_url, cover_image_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Username, account.Email, account.FullName,
		account.PasswordHash, account.AvatarURL, account.CoverImageURL,
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.WatchHistory = []string{}
	return account, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, args ...any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE ` + where + ` LIMIT 1`
	return r.queryOne(ctx, query, args...)
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return r.withHistory(ctx, a)
}

func (r *PostgresRepository) withHistory(ctx context.Context, a *models.Account) (*models.Account, error) {
	history, err := r.WatchHistory(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.WatchHistory = history
	return a, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	return r.findOne(ctx, `id = $1`, id)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, `username = $1`, username)
}

func (r *PostgresRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	if username == "" && email == "" {
		return nil, common.ErrorNotFound
	}
	// A username match wins over an email match on another account.
	return r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM users WHERE username = $1 OR email = $2 ORDER BY (username = $1) DESC LIMIT 1`,
		username, email)
}

// exec runs an UPDATE and maps "no rows affected" to noRows.
func (r *PostgresRepository) exec(ctx context.Context, noRows error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return noRows
	}
	return nil
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	query :=
		`UPDATE users SET refresh_token = $1, updated_at = now()
		 WHERE id = $2
		 `
	return r.exec(ctx, common.ErrorNotFound, query, token, id)
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, current, next string) error {
	query :=
		`UPDATE users SET refresh_token = $1, updated_at = now()
		 WHERE id = $2 AND refresh_token = $3
		 `
	return r.exec(ctx, common.ErrorRefreshTokenMismatch, query, next, id, current)
}

func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, id string) error {
	query :=
		`UPDATE users SET refresh_token = NULL, updated_at = now()
		 WHERE id = $1
		 `
	return r.exec(ctx, common.ErrorNotFound, query, id)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query :=
		`UPDATE users SET password_hash = $1, updated_at = now()
		 WHERE id = $2
		 `
	return r.exec(ctx, common.ErrorNotFound, query, passwordHash, id)
}

func (r *PostgresRepository) updateReturning(ctx context.Context, set string, args ...any) (*models.Account, error) {
	query := `UPDATE users SET ` + set + `, updated_at = now() WHERE id = $1 RETURNING ` + accountColumns

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return r.withHistory(ctx, a)
}

func (r *PostgresRepository) UpdateDetails(ctx context.Context, id, fullName, email string) (*models.Account, error) {
	return r.updateReturning(ctx,
		`full_name = COALESCE(NULLIF($2, ''), full_name), email = COALESCE(NULLIF($3, ''), email)`,
		id, fullName, email)
}

func (r *PostgresRepository) UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error) {
	return r.updateReturning(ctx, `avatar_url = $2`, id, url)
}

func (r *PostgresRepository) UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error) {
	return r.updateReturning(ctx, `cover_image_url = $2`, id, url)
}

func (r *PostgresRepository) WatchHistory(ctx context.Context, id string) ([]string, error) {
	query :=
		`SELECT video_id FROM watch_history
		 WHERE user_id = $1
		 ORDER BY watched_at, video_id
		 `

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	history := []string{}
	for rows.Next() {
		var videoID string
		if err := rows.Scan(&videoID); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		history = append(history, videoID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return history, nil
}
