package protocol

import (
	"github.com/example/session-coordinator/internal/models"
)

// Router delivers named events to an audience. Implementations own the
// transport-level group subscriptions; Join and Leave on an unknown
// connection are no-ops.
type Router interface {
	Emit(connID, event string, payload any)
	EmitGroup(groupID, event string, payload any)
	EmitGroupExcept(groupID, exceptConnID, event string, payload any)
	EmitAll(event string, payload any)
	Join(connID, groupID string)
	Leave(connID, groupID string)
}

// Inbound event names. Aliases resolve to the same handler.
const (
	EventGoLive        = "go-live"
	EventActivate      = "activate"
	EventReady         = "ready"
	EventAccept        = "accept"
	EventFindDrivers   = "find-drivers"
	EventRequestDriver = "request-driver"
	EventUpdateRide    = "update-ride"
	EventJoinGroup     = "join-group"
	EventJoinRoom      = "join-room"
	EventLeaveGroup    = "leave-group"
	EventLeaveRoom     = "leave-room"
	EventUpdateCode    = "update-code"
	EventUpdateShared  = "update-shared-state"
	EventCloseGroup    = "close-group"
	EventCloseRoom     = "close-room"
	EventDisconnect    = "disconnect"
)

// Outbound event names.
const (
	EventStatus        = "status"
	EventDrivers       = "drivers"
	EventDriverRequest = "driver-request"
	EventRideUpdate    = "rideUpdate"
	EventRoomUpdate    = "room-update"
	EventRoomStatus    = "room-status"
	EventCodeUpdate    = "code-update"
	EventGroupClosed   = "group-closed"
	EventMessage       = "message"
	EventUserList      = "userList"
	EventRoomList      = "roomList"
)

const (
	adminName          = "Admin"
	msgRoomMissing     = "Room does not exist"
	rideStatusAccepted = "accepted"
)

type StatusMessage struct {
	Data models.Participant `json:"data"`
}

type DriversMessage struct {
	Drivers []models.Participant `json:"drivers"`
}

type DriverRequestMessage struct {
	Rider models.Participant `json:"rider"`
}

type RideUpdateMessage struct {
	Ride models.Ride `json:"ride"`
}

type RoomUpdateMessage struct {
	GroupID string          `json:"groupId"`
	Users   []models.Member `json:"users"`
	Code    string          `json:"code"`
}

type RoomStatusMessage struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type CodeUpdateMessage struct {
	GroupID string `json:"groupId"`
	Code    string `json:"code"`
}

type GroupClosedMessage struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

type AdminMessage struct {
	Name string `json:"name"`
	Text string `json:"text"`
	Time string `json:"time"`
}

type UserListMessage struct {
	GroupID string          `json:"groupId"`
	Users   []models.Member `json:"users"`
}

type RoomListMessage struct {
	Rooms []string `json:"rooms"`
}

func roomUpdateFrom(g models.Group) RoomUpdateMessage {
	msg := RoomUpdateMessage{GroupID: g.ID, Users: g.Members}
	if msg.Users == nil {
		msg.Users = []models.Member{}
	}
	if g.Room != nil {
		msg.Code = g.Room.Code
	}
	return msg
}
