package app

import (
	"time"

	"go.uber.org/zap"
	"quiz-rooms/internal/domain"
)

func (r *Room) requireHost(id string) error {
	m := r.findMember(id)
	if m == nil {
		return domain.ErrParticipantNotFound
	}
	if !m.IsHost {
		return domain.ErrNotHost
	}
	return nil
}

type startCmd struct {
	request
	participantID string
}

func (c startCmd) apply(r *Room) {
	if err := r.requireHost(c.participantID); err != nil {
		c.fail(err)
		return
	}
	if r.status != domain.StatusLobby {
		c.fail(domain.ErrInvalidTransition)
		return
	}
	if len(r.players) == 0 {
		c.fail(domain.ErrNoPlayers)
		return
	}
	r.activateQuestion(0, domain.EventGameStarted)
	c.respond(nil, nil)
	r.logger.Info("game started",
		zap.String("room", r.code),
		zap.String("quiz_id", r.quiz.ID),
		zap.Int("players", len(r.players)),
	)
}

// activateQuestion enters IN_QUESTION(i): fresh answer set, fresh countdown, question broadcast.
func (r *Room) activateQuestion(i int, eventType string) {
	r.status = domain.StatusInQuestion
	r.current = i
	r.answers[i] = make(map[string]domain.AnswerSubmission, len(r.players))
	r.paused = false
	r.remaining = 0
	r.armQuestionTimer(r.quiz.Questions[i].TimeLimit(r.settings.QuestionTime))

	r.broadcast(domain.Event{Type: eventType, Payload: r.questionPayload()}, "")
	r.commit("")
}

// armQuestionTimer replaces any running countdown. Stale timers are ignored by generation.
func (r *Room) armQuestionTimer(d time.Duration) {
	stopTimer(r.questionTimer)
	r.questionGen++
	gen, index := r.questionGen, r.current
	r.questionDeadline = r.clock.Now().Add(d)
	r.questionTimer = r.clock.AfterFunc(d, func() {
		r.post(questionTimeoutCmd{index: index, gen: gen})
	})
}

func (r *Room) disarmQuestionTimer() {
	stopTimer(r.questionTimer)
	r.questionTimer = nil
	r.questionGen++
}

func (r *Room) questionPayload() domain.QuestionPayload {
	return domain.QuestionPayload{
		Question:        r.quiz.Questions[r.current].Public(),
		QuestionIndex:   r.current,
		TotalQuestions:  len(r.quiz.Questions),
		TimeRemainingMs: r.timeRemaining().Milliseconds(),
	}
}

func (r *Room) activeQuestion() *domain.QuestionPayload {
	if r.status != domain.StatusInQuestion {
		return nil
	}
	payload := r.questionPayload()
	return &payload
}

type submitCmd struct {
	request
	participantID string
	index         int
	choice        int
}

func (c submitCmd) apply(r *Room) {
	m := r.findMember(c.participantID)
	if m == nil {
		c.fail(domain.ErrParticipantNotFound)
		return
	}
	if m.IsHost {
		c.fail(domain.ErrNotPlayer)
		return
	}
	if r.status != domain.StatusInQuestion || c.index != r.current {
		c.fail(domain.ErrStaleQuestion)
		return
	}
	if _, dup := r.answers[c.index][m.ID]; dup {
		c.fail(domain.ErrDuplicateSubmission)
		return
	}

	correct, awarded, err := scoreSubmission(r.quiz.Questions[c.index], c.choice)
	if err != nil {
		c.fail(err)
		return
	}
	result := r.recordAnswer(m, c.index, c.choice, correct, awarded)
	c.respond(result, nil)

	r.sendTo(r.host, domain.Event{Type: domain.EventAnswerProgress, Payload: domain.AnswerProgress{
		QuestionIndex: c.index,
		AnsweredCount: r.answeredCount(),
		TotalPlayers:  len(r.players),
	}})
	r.checkAllAnswered()
}

func (r *Room) recordAnswer(m *member, index, choice int, correct bool, awarded int) domain.AnswerResult {
	r.answers[index][m.ID] = domain.AnswerSubmission{
		PlayerID:      m.ID,
		QuestionIndex: index,
		Choice:        choice,
		SubmittedAt:   r.clock.Now(),
	}
	if correct {
		m.Score += awarded
		m.CorrectAnswersCount++
	}
	result := domain.AnswerResult{
		QuestionIndex:      index,
		IsCorrect:          correct,
		CorrectOptionIndex: r.quiz.Questions[index].CorrectOptionIndex,
		Awarded:            awarded,
		Score:              m.Score,
	}
	r.sendTo(m, domain.Event{Type: domain.EventAnswerAccepted, Payload: result})
	return result
}

func (r *Room) answeredCount() int {
	answered := r.answers[r.current]
	n := 0
	for _, p := range r.players {
		if _, ok := answered[p.ID]; ok {
			n++
		}
	}
	return n
}

func (r *Room) checkAllAnswered() {
	if r.status != domain.StatusInQuestion || len(r.players) == 0 {
		return
	}
	if r.answeredCount() >= len(r.players) {
		r.reveal(domain.RevealAllAnswered)
	}
}

type questionTimeoutCmd struct {
	index int
	gen   uint64
}

func (c questionTimeoutCmd) apply(r *Room) {
	if c.gen != r.questionGen || r.status != domain.StatusInQuestion || r.current != c.index {
		return
	}
	answered := r.answers[c.index]
	for _, p := range r.players {
		if _, ok := answered[p.ID]; !ok {
			r.recordAnswer(p, c.index, domain.TimeoutChoice, false, 0)
		}
	}
	r.reveal(domain.RevealTimeout)
}

// reveal enters REVEAL for the current question. Late submissions become stale.
func (r *Room) reveal(reason string) {
	r.disarmQuestionTimer()
	r.paused = false
	r.remaining = 0
	r.status = domain.StatusReveal

	r.broadcast(domain.Event{Type: domain.EventAllAnswered, Payload: domain.RevealPayload{
		QuestionIndex:      r.current,
		CorrectOptionIndex: r.quiz.Questions[r.current].CorrectOptionIndex,
		Reason:             reason,
		Leaderboard:        rankPlayers(r.players),
	}}, "")
	r.commit("")
}

type nextCmd struct {
	request
	participantID string
}

func (c nextCmd) apply(r *Room) {
	if err := r.requireHost(c.participantID); err != nil {
		c.fail(err)
		return
	}
	if r.status != domain.StatusReveal {
		c.fail(domain.ErrInvalidTransition)
		return
	}
	if r.current+1 >= len(r.quiz.Questions) {
		r.finish()
	} else {
		r.activateQuestion(r.current+1, domain.EventQuestionActivated)
	}
	c.respond(nil, nil)
}

func (r *Room) finish() {
	r.status = domain.StatusFinished
	r.broadcast(domain.Event{
		Type:    domain.EventGameFinished,
		Payload: domain.RankedPayload{Ranked: rankPlayers(r.players)},
	}, "")
	r.commit("")
	r.logger.Info("game finished", zap.String("room", r.code), zap.Int("players", len(r.players)))
}

type revealLeaderboardCmd struct {
	request
	participantID string
}

func (c revealLeaderboardCmd) apply(r *Room) {
	if err := r.requireHost(c.participantID); err != nil {
		c.fail(err)
		return
	}
	if r.status != domain.StatusReveal && r.status != domain.StatusFinished {
		c.fail(domain.ErrInvalidTransition)
		return
	}
	ranked := rankPlayers(r.players)
	r.broadcast(domain.Event{Type: domain.EventLeaderboard, Payload: domain.RankedPayload{Ranked: ranked}}, "")
	c.respond(ranked, nil)
}
