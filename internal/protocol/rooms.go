package protocol

import (
	"github.com/example/session-coordinator/internal/models"
)

// joinGroup admits the connection into a pre-registered room under the
// member's stable id. A missing room is reported on the room's own channel,
// which the joining connection is not yet subscribed to.
func (e *Engine) joinGroup(ev Inbound) error {
	var in groupMemberPayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if err := in.validate(ev.Event); err != nil {
		return err
	}
	g, ok := e.groups.Get(in.GroupID)
	if !ok || g.Kind != models.KindRoom {
		e.emitGroup(in.GroupID, EventRoomStatus, RoomStatusMessage{Status: false, Message: msgRoomMissing})
		return nil
	}

	for _, m := range g.Members {
		switch {
		case m.ID == in.Member.ID && m.ConnectionID != ev.ConnID:
			// reconnect: the stale connection loses the channel
			e.router.Leave(m.ConnectionID, g.ID)
			e.unbind(m.ConnectionID, g.ID)
		case m.ID != in.Member.ID && m.ConnectionID == ev.ConnID:
			// same connection rejoining under a new identity
			e.groups.RemoveMember(g.ID, m.ID)
		}
	}

	p, ok := e.members.Get(ev.ConnID)
	if !ok {
		p = models.Participant{ID: ev.ConnID, Name: in.Member.Name, Role: models.RoleMember, ExternalUserID: ev.UserID}
	}
	e.bind(p, g.ID)
	e.router.Join(ev.ConnID, g.ID)
	g, _ = e.groups.UpsertMember(g.ID, models.Member{ID: in.Member.ID, Name: in.Member.Name, ConnectionID: ev.ConnID})
	e.emitGroup(g.ID, EventRoomUpdate, roomUpdateFrom(g))
	return nil
}

func (e *Engine) leaveGroup(ev Inbound) error {
	var in groupMemberPayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if err := in.validate(ev.Event); err != nil {
		return err
	}
	g, ok := e.groups.Get(in.GroupID)
	if !ok {
		return nil
	}
	// a connection can only take its own entry out
	m, bound := g.MemberByConnection(ev.ConnID)
	if !bound || m.ID != in.Member.ID {
		return ErrNotGroupMember
	}
	e.router.Leave(ev.ConnID, g.ID)
	g, _ = e.groups.RemoveMember(g.ID, m.ID)
	e.unbind(ev.ConnID, g.ID)
	e.announceMembers(g)
	return nil
}

// updateCode stores the room text and relays it to everyone but the sender.
func (e *Engine) updateCode(ev Inbound) error {
	var in updateCodePayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.GroupID == "" {
		return missing(ev.Event, "groupId")
	}
	if in.Code == nil {
		return missing(ev.Event, "code")
	}
	g, ok := e.groups.Get(in.GroupID)
	if !ok || g.Kind != models.KindRoom {
		return nil
	}
	if _, ok := g.MemberByConnection(ev.ConnID); !ok {
		return ErrNotGroupMember
	}
	e.groups.SetCode(g.ID, *in.Code)
	e.emitOthers(g.ID, ev.ConnID, EventCodeUpdate, CodeUpdateMessage{GroupID: g.ID, Code: *in.Code})
	return nil
}

func (e *Engine) closeGroup(ev Inbound) error {
	var in groupPayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.GroupID == "" {
		return missing(ev.Event, "groupId")
	}
	g, ok := e.groups.Get(in.GroupID)
	if !ok {
		return nil
	}
	if g.Kind == models.KindRide {
		return e.closeRide(ev, g)
	}
	closed, _ := e.groups.Close(g.ID)
	e.emitGroup(g.ID, EventGroupClosed, GroupClosedMessage{GroupID: g.ID, Message: "Room closed"})
	for _, m := range closed.Members {
		e.router.Leave(m.ConnectionID, g.ID)
		e.unbind(m.ConnectionID, g.ID)
	}
	e.logger.Info("room closed", "group_id", g.ID)
	e.emitAll(EventRoomList, RoomListMessage{Rooms: e.activeGroups()})
	return nil
}
