package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-rooms/internal/domain"
)

// AccountStore resolves host accounts.
type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

func (s *AccountStore) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	acc := domain.Account{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT display_name FROM accounts WHERE id=$1`, id).Scan(&acc.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

func (s *AccountStore) SaveAccount(ctx context.Context, acc domain.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, display_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		acc.ID, acc.DisplayName)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}
