package service

import (
	"context"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/keylock"
	"github.com/xxxsen/kbchat/internal/repo"
)

type HistoryService struct {
	turns *repo.ChatRepo
	locks *keylock.KeyLock
}

func NewHistoryService(turns *repo.ChatRepo) *HistoryService {
	return &HistoryService{turns: turns, locks: keylock.New()}
}

// Load returns the session in append order. A session that was never
// written is an empty slice.
func (s *HistoryService) Load(ctx context.Context, tenantKey string, userID string) ([]model.ChatTurn, error) {
	records, err := s.turns.List(ctx, tenantKey, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ChatTurn, 0, len(records))
	for _, r := range records {
		out = append(out, r.ChatTurn)
	}
	return out, nil
}

func (s *HistoryService) Append(ctx context.Context, tenantKey string, userID string, turn model.ChatTurn) error {
	unlock := s.locks.Lock(tenantKey + "\x00" + userID)
	defer unlock()
	_, err := s.turns.Append(ctx, tenantKey, userID, turn)
	return err
}

func lastTurns(turns []model.ChatTurn, n int) []model.ChatTurn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
