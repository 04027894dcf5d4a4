package protocol

import (
	"github.com/example/session-coordinator/internal/models"
)

// activate records who the connection is. Attributes are replaced; the
// group binding is engine state and carries over.
func (e *Engine) activate(ev Inbound) error {
	var in activatePayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	role, ok := models.ParseRole(in.Type)
	if !ok {
		return missing(ev.Event, "type")
	}
	prev, _ := e.members.Get(ev.ConnID)
	e.members.Upsert(models.Participant{
		ID:             ev.ConnID,
		Name:           in.Name,
		Role:           role,
		ExternalUserID: ev.UserID,
		GroupID:        prev.GroupID,
	})
	return nil
}

// ready echoes the caller's own record. Before go-live there is nothing to
// send, which is a normal connect-time race.
func (e *Engine) ready(ev Inbound) error {
	p, ok := e.members.Get(ev.ConnID)
	if !ok {
		return nil
	}
	e.emit(ev.ConnID, EventStatus, StatusMessage{Data: p})
	return nil
}

func (e *Engine) disconnect(ev Inbound) error {
	p, ok := e.members.Remove(ev.ConnID)
	if !ok || p.GroupID == "" {
		return nil
	}
	g, ok := e.release(ev.ConnID, p.GroupID)
	if !ok {
		return nil
	}
	e.emitGroup(g.ID, EventMessage, AdminMessage{
		Name: adminName,
		Text: p.Name + " has left the room",
		Time: e.now().Format("15:04:05"),
	})
	e.emitGroup(g.ID, EventUserList, UserListMessage{GroupID: g.ID, Users: g.Members})
	if g.Kind == models.KindRoom {
		e.emitGroup(g.ID, EventRoomUpdate, roomUpdateFrom(g))
	}
	e.emitAll(EventRoomList, RoomListMessage{Rooms: e.activeGroups()})
	return nil
}

// release unsubscribes connID from groupID and drops the member entry still
// bound to that connection. If the identity was already taken over by a
// newer connection, the entry is left alone. ok is false when nothing in the
// registry changed.
func (e *Engine) release(connID, groupID string) (models.Group, bool) {
	e.router.Leave(connID, groupID)
	g, ok := e.groups.Get(groupID)
	if !ok {
		return models.Group{}, false
	}
	m, bound := g.MemberByConnection(connID)
	if !bound {
		return models.Group{}, false
	}
	return e.groups.RemoveMember(groupID, m.ID)
}

// bind points p at groupID, leaving its previous group first so a
// participant is never in two groups.
func (e *Engine) bind(p models.Participant, groupID string) {
	if p.GroupID == groupID {
		if _, ok := e.members.Get(p.ID); ok {
			return
		}
	}
	if p.GroupID != "" && p.GroupID != groupID {
		if g, ok := e.release(p.ID, p.GroupID); ok {
			e.announceMembers(g)
		}
	}
	p.GroupID = groupID
	e.members.Upsert(p)
}

// unbind clears the back-reference if it still points at groupID.
func (e *Engine) unbind(connID, groupID string) {
	p, ok := e.members.Get(connID)
	if !ok || p.GroupID != groupID {
		return
	}
	p.GroupID = ""
	e.members.Upsert(p)
}

func (e *Engine) announceMembers(g models.Group) {
	if g.Kind == models.KindRoom {
		e.emitGroup(g.ID, EventRoomUpdate, roomUpdateFrom(g))
		return
	}
	e.emitGroup(g.ID, EventUserList, UserListMessage{GroupID: g.ID, Users: g.Members})
}

// activeGroups lists groups that currently have at least one member.
func (e *Engine) activeGroups() []string {
	out := []string{}
	for _, g := range e.groups.List() {
		if len(g.Members) > 0 {
			out = append(out, g.ID)
		}
	}
	return out
}
