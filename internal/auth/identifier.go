package auth

import (
	"context"
	"errors"
	"fmt"

	"quiz-rooms/internal/domain"
)

// AccountStore resolves account ids (Postgres or static).
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (domain.Account, error)
}

// HostIdentifier turns a host token into an account.
type HostIdentifier struct {
	tokens   *TokenService
	accounts AccountStore
}

func NewHostIdentifier(tokens *TokenService, accounts AccountStore) *HostIdentifier {
	return &HostIdentifier{tokens: tokens, accounts: accounts}
}

func (h *HostIdentifier) IdentifyHost(ctx context.Context, token string) (domain.Account, error) {
	if token == "" {
		return domain.Account{}, domain.ErrUnauthorized
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	acc, err := h.accounts.GetAccount(ctx, claims.AccountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}
