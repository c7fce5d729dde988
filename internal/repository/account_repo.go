package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/snsa-kscc/NutriChatBack/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AccountRepository struct {
	db DBTX
}

func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetBySubjectID(ctx context.Context, subjectID string) (*models.Account, error) {
	query := `
		SELECT subject_id, name, role, push_token, created_at, updated_at
		FROM accounts
		WHERE subject_id = $1
	`
	var account models.Account
	err := r.db.QueryRow(ctx, query, subjectID).Scan(
		&account.SubjectID,
		&account.Name,
		&account.Role,
		&account.PushToken,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) UpsertPushToken(
	ctx context.Context,
	subjectID string,
	name string,
	role string,
	pushToken string,
) (*models.Account, error) {
	query := `
		INSERT INTO accounts (subject_id, name, role, push_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id)
		DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role,
			push_token = EXCLUDED.push_token, updated_at = NOW()
		RETURNING subject_id, name, role, push_token, created_at, updated_at
	`
	var account models.Account
	err := r.db.QueryRow(ctx, query, subjectID, name, role, pushToken).Scan(
		&account.SubjectID,
		&account.Name,
		&account.Role,
		&account.PushToken,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ClearPushToken(ctx context.Context, subjectID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET push_token = NULL, updated_at = NOW()
		WHERE subject_id = $1
	`, subjectID)
	return err
}
