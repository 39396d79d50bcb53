package app

import (
	"go.uber.org/zap"
	"quiz-rooms/internal/domain"
)

type joinCmd struct {
	request
	player *member
	caller Caller
}

func (c joinCmd) apply(r *Room) {
	if r.status == domain.StatusFinished {
		c.fail(domain.ErrRoomClosed)
		return
	}
	if len(r.players) >= r.settings.MaxPlayers {
		c.fail(domain.ErrRoomFull)
		return
	}

	r.joinSeq++
	p := c.player
	p.JoinOrder = r.joinSeq
	p.JoinedAt = r.clock.Now()
	p.State = domain.StateConnected
	p.listener = c.caller.Listener
	r.players = append(r.players, p)

	snap := r.commit(p.ID)
	payload := domain.RoomJoinedPayload{
		PlayerID:        p.ID,
		Room:            snap,
		CurrentQuestion: r.activeQuestion(),
	}
	r.sendTo(p, domain.Event{Type: domain.EventRoomJoined, RequestID: c.caller.RequestID, Payload: payload})
	c.respond(payload, nil)

	r.logger.Debug("player joined",
		zap.String("room", r.code),
		zap.String("player_id", p.ID),
		zap.Int("players", len(r.players)),
	)
}

type leaveCmd struct {
	request
	participantID string
}

func (c leaveCmd) apply(r *Room) {
	m := r.findMember(c.participantID)
	if m == nil {
		c.fail(domain.ErrParticipantNotFound)
		return
	}
	if m.IsHost {
		reason := domain.CloseHostLeft
		if r.status == domain.StatusFinished {
			reason = domain.CloseGameComplete
		}
		r.closeRoom(reason)
		c.respond(nil, nil)
		return
	}
	// The leaving connection unbinds itself; it must not get a Release callback.
	m.listener = nil
	r.removePlayer(m)
	c.respond(nil, nil)
}

// removePlayer drops a player from the authoritative list. Its id is never reused.
func (r *Room) removePlayer(m *member) {
	stopTimer(m.graceTimer)
	m.graceTimer = nil
	m.State = domain.StateRemoved

	kept := r.players[:0]
	for _, p := range r.players {
		if p != m {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(r.players); i++ {
		r.players[i] = nil
	}
	r.players = kept

	r.broadcast(domain.Event{
		Type:    domain.EventParticipantRemoved,
		Payload: domain.ParticipantPayload{ParticipantID: m.ID},
	}, "")
	r.commit("")

	r.logger.Debug("player removed",
		zap.String("room", r.code),
		zap.String("player_id", m.ID),
		zap.Int("players", len(r.players)),
	)

	if r.status == domain.StatusFinished && len(r.players) == 0 && r.host.State != domain.StateConnected {
		r.closeRoom(domain.CloseGameComplete)
		return
	}
	r.checkAllAnswered()
}

// closeRoom moves the room to its terminal state and notifies every connected member.
func (r *Room) closeRoom(reason string) {
	stopTimer(r.questionTimer)
	r.questionTimer = nil
	r.questionGen++
	r.status = domain.StatusClosed

	r.broadcast(domain.Event{
		Type:    domain.EventRoomClosed,
		Payload: domain.RoomClosedPayload{Reason: reason},
	}, "")
	for _, m := range r.members() {
		stopTimer(m.graceTimer)
		m.graceTimer = nil
		if m.listener != nil {
			m.listener.Release(r.code)
			m.listener = nil
		}
	}

	r.logger.Info("room closed", zap.String("room", r.code), zap.String("reason", reason))
}
