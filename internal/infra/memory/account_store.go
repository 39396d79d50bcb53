package memory

import (
	"context"

	"quiz-rooms/internal/domain"
)

// StaticAccountStore serves accounts from a fixed map; used when no Postgres is configured.
type StaticAccountStore struct {
	accounts map[string]domain.Account
}

func NewStaticAccountStore(accounts ...domain.Account) *StaticAccountStore {
	m := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &StaticAccountStore{accounts: m}
}

func (s *StaticAccountStore) GetAccount(_ context.Context, id string) (domain.Account, error) {
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	return domain.Account{}, domain.ErrAccountNotFound
}
