package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountsRepository answers questions about account verification state.
type AccountsRepository struct {
	q      Querier
	logger *zap.Logger
}

func NewAccountsRepository(q Querier, logger *zap.Logger) *AccountsRepository {
	return &AccountsRepository{q: q, logger: logger}
}

// IsVerified reports whether uid has confirmed its email address. An
// unknown uid is treated as unverified.
func (r *AccountsRepository) IsVerified(ctx context.Context, uid string) (bool, error) {
	var verified bool
	err := r.q.QueryRow(ctx, `SELECT email_verified FROM accounts WHERE uid = $1`, uid).Scan(&verified)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("account not found for reminder", zap.String("uid", uid))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query account %s: %w", uid, err)
	}
	return verified, nil
}
