package app

import (
	"sort"

	"quiz-rooms/internal/domain"
)

// scoreSubmission judges choice against q. A TimeoutChoice is never correct.
func scoreSubmission(q domain.Question, choice int) (correct bool, awarded int, err error) {
	if choice == domain.TimeoutChoice {
		return false, 0, nil
	}
	if choice < 0 || choice >= len(q.Options) {
		return false, 0, domain.ErrOptionNotFound
	}
	if choice != q.CorrectOptionIndex {
		return false, 0, nil
	}
	return true, q.PointsValue(), nil
}

// rankPlayers orders by score, then correct answers, then join order. Ranks are 1-based and unique.
func rankPlayers(players []*member) []domain.LeaderboardEntry {
	ordered := make([]*member, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswersCount != b.CorrectAnswersCount {
			return a.CorrectAnswersCount > b.CorrectAnswersCount
		}
		return a.JoinOrder < b.JoinOrder
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, p := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:                i + 1,
			PlayerID:            p.ID,
			DisplayName:         p.DisplayName,
			Score:               p.Score,
			CorrectAnswersCount: p.CorrectAnswersCount,
		})
	}
	return entries
}
