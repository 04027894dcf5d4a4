package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrNotRideParty     = errors.New("sender is not a party to the ride")
	ErrNotGroupMember   = errors.New("sender is not a member of the group")
	ErrRideNotStarted   = errors.New("ride has not been started by its driver")
	ErrEngineStopped    = errors.New("engine stopped")
)

// Inbound is one event from one connection. UserID is the external id the
// client supplied at handshake time.
type Inbound struct {
	ConnID string
	UserID string
	Event  string
	Data   json.RawMessage
}

// Frame is the websocket envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeFrame parses a client frame. Clients cannot send disconnect; the
// transport synthesizes it.
func DecodeFrame(connID, userID string, raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if f.Event == "" {
		return Inbound{}, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	if f.Event == EventDisconnect {
		return Inbound{}, fmt.Errorf("%w: %s is reserved", ErrUnknownEvent, f.Event)
	}
	return Inbound{ConnID: connID, UserID: userID, Event: f.Event, Data: f.Data}, nil
}

// EncodeFrame builds an outbound envelope.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

type activatePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type acceptPayload struct {
	RiderID        string  `json:"riderId"`
	DriverLocation *string `json:"driverLocation"`
}

type requestDriverPayload struct {
	DriverID string `json:"driverId"`
}

type updateRidePayload struct {
	DriverID        string  `json:"driverId"`
	RiderID         string  `json:"riderId"`
	RideStatus      *string `json:"rideStatus"`
	DriverLocation  *string `json:"driverLocation"`
	PickupLocation  *string `json:"pickupLocation"`
	RideDestination *string `json:"rideDestination"`
}

type memberPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type groupMemberPayload struct {
	GroupID string         `json:"groupId"`
	Member  *memberPayload `json:"member"`
}

type updateCodePayload struct {
	GroupID string  `json:"groupId"`
	Code    *string `json:"code"`
}

type groupPayload struct {
	GroupID string `json:"groupId"`
}

func decode(ev Inbound, v any) error {
	data := bytes.TrimSpace(ev.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: %s: missing data", ErrMalformedPayload, ev.Event)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, ev.Event, err)
	}
	return nil
}

func missing(event, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformedPayload, event, field)
}

func (p groupMemberPayload) validate(event string) error {
	if p.GroupID == "" {
		return missing(event, "groupId")
	}
	if p.Member == nil || p.Member.ID == "" {
		return missing(event, "member.id")
	}
	return nil
}
