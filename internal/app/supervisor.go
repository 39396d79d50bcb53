package app

import (
	"strings"

	"go.uber.org/zap"
	"quiz-rooms/internal/domain"
)

// disconnectCmd is posted by the transport when a connection bound to a participant drops.
type disconnectCmd struct {
	participantID string
	connID        string
}

func (c disconnectCmd) apply(r *Room) {
	m := r.findMember(c.participantID)
	if m == nil || m.State != domain.StateConnected {
		return
	}
	// A connection that was already superseded by a resume must not evict its successor.
	if m.listener == nil || m.listener.ID() != c.connID {
		return
	}
	m.listener = nil
	m.State = domain.StateGracePeriod

	grace := r.settings.PlayerGrace
	if m.IsHost {
		grace = r.settings.HostGrace
		r.pauseQuestion()
	}
	m.graceGen++
	gen, id := m.graceGen, m.ID
	stopTimer(m.graceTimer)
	m.graceTimer = r.clock.AfterFunc(grace, func() {
		r.post(graceExpiredCmd{participantID: id, gen: gen})
	})

	r.broadcast(domain.Event{
		Type:    domain.EventParticipantGracePeriod,
		Payload: domain.ParticipantPayload{ParticipantID: m.ID},
	}, "")
	r.commit("")

	r.logger.Info("participant disconnected",
		zap.String("room", r.code),
		zap.String("participant_id", m.ID),
		zap.Bool("host", m.IsHost),
		zap.Duration("grace", grace),
	)
}

type graceExpiredCmd struct {
	participantID string
	gen           uint64
}

func (c graceExpiredCmd) apply(r *Room) {
	m := r.findMember(c.participantID)
	if m == nil || m.State != domain.StateGracePeriod || m.graceGen != c.gen {
		return
	}
	m.graceTimer = nil
	if m.IsHost {
		reason := domain.CloseHostTimeout
		if r.status == domain.StatusFinished {
			reason = domain.CloseGameComplete
		}
		r.closeRoom(reason)
		return
	}
	r.removePlayer(m)
}

type resumeCmd struct {
	request
	req    domain.ResumeRequest
	caller Caller
}

func (c resumeCmd) apply(r *Room) {
	m := r.findMember(c.req.ParticipantID)
	if m == nil || m.IsHost != c.req.IsHost {
		c.fail(domain.ErrParticipantNotFound)
		return
	}
	if name := domain.NormalizeDisplayName(c.req.DisplayName); name != "" && !strings.EqualFold(name, m.DisplayName) {
		c.fail(domain.ErrParticipantNotFound)
		return
	}

	switch m.State {
	case domain.StateGracePeriod:
		stopTimer(m.graceTimer)
		m.graceTimer = nil
		m.graceGen++
		m.State = domain.StateConnected
		if m.IsHost {
			r.resumeQuestion()
		}
	case domain.StateConnected:
		if m.listener != nil && (c.caller.Listener == nil || m.listener.ID() != c.caller.Listener.ID()) {
			m.listener.Release(r.code)
		}
	}
	m.listener = c.caller.Listener

	snap := r.commit(m.ID)
	payload := domain.ResumeSucceededPayload{
		ParticipantID: m.ID,
		IsHost:        m.IsHost,
		Room:          snap,
		CurrentState:  r.resumeState(m),
	}
	r.sendTo(m, domain.Event{Type: domain.EventResumeSucceeded, RequestID: c.caller.RequestID, Payload: payload})
	c.respond(payload, nil)

	r.logger.Info("participant resumed",
		zap.String("room", r.code),
		zap.String("participant_id", m.ID),
		zap.Bool("host", m.IsHost),
	)
}

func (r *Room) resumeState(m *member) domain.ResumeState {
	_, answered := r.answers[r.current][m.ID]
	return domain.ResumeState{
		Status:              r.status,
		QuestionIndex:       r.current,
		Question:            r.activeQuestion(),
		Answered:            answered && r.status == domain.StatusInQuestion,
		Score:               m.Score,
		CorrectAnswersCount: m.CorrectAnswersCount,
	}
}

// pauseQuestion freezes the countdown while the host is away.
func (r *Room) pauseQuestion() {
	if r.status != domain.StatusInQuestion || r.paused {
		return
	}
	r.remaining = r.timeRemaining()
	r.disarmQuestionTimer()
	r.paused = true
}

func (r *Room) resumeQuestion() {
	if r.status != domain.StatusInQuestion || !r.paused {
		return
	}
	left := r.remaining
	r.paused = false
	r.remaining = 0
	r.armQuestionTimer(left)
}
