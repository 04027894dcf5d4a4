package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
	RoleMember Role = "member"
)

// ParseRole accepts the singular and plural spellings clients send.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driver", "drivers":
		return RoleDriver, true
	case "rider", "riders":
		return RoleRider, true
	case "member", "members":
		return RoleMember, true
	}
	return "", false
}

// Participant is one live connection after it has activated.
type Participant struct {
	ID             string `json:"id"` // transport connection id
	Name           string `json:"name"`
	Role           Role   `json:"userType"`
	ExternalUserID string `json:"userId,omitempty"`
	GroupID        string `json:"room,omitempty"`
}

// Member is a group entry keyed by a stable identity, not by connection.
type Member struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	ConnectionID string `json:"connectionId"`
}

type GroupKind string

const (
	KindRide GroupKind = "ride"
	KindRoom GroupKind = "room"
)

type RideState struct {
	Driver          *Participant `json:"driver,omitempty"`
	Rider           *Participant `json:"rider,omitempty"`
	DriverID        string       `json:"driverId"`
	RiderID         string       `json:"riderId"`
	Status          string       `json:"rideStatus"`
	DriverLocation  string       `json:"driverLocation,omitempty"`
	PickupLocation  string       `json:"pickupLocation,omitempty"`
	RideDestination string       `json:"rideDestination,omitempty"`
}

type RoomState struct {
	Code string `json:"code"`
}

type Group struct {
	ID        string     `json:"id"`
	Kind      GroupKind  `json:"kind"`
	Host      string     `json:"host,omitempty"`
	Members   []Member   `json:"members"`
	Ride      *RideState `json:"ride,omitempty"`
	Room      *RoomState `json:"room,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (g Group) Clone() Group {
	out := g
	out.Members = append([]Member(nil), g.Members...)
	if out.Members == nil {
		out.Members = []Member{}
	}
	if g.Ride != nil {
		r := *g.Ride
		if g.Ride.Driver != nil {
			d := *g.Ride.Driver
			r.Driver = &d
		}
		if g.Ride.Rider != nil {
			rd := *g.Ride.Rider
			r.Rider = &rd
		}
		out.Ride = &r
	}
	if g.Room != nil {
		rm := *g.Room
		out.Room = &rm
	}
	return out
}

// MemberByConnection finds the entry currently bound to connID.
func (g Group) MemberByConnection(connID string) (Member, bool) {
	for _, m := range g.Members {
		if m.ConnectionID == connID {
			return m, true
		}
	}
	return Member{}, false
}

// Ride is the wire shape of a ride group.
type Ride struct {
	ID string `json:"id"`
	RideState
	UpdatedAt time.Time `json:"updatedAt"`
}

// RideFromGroup projects a ride group into its wire shape.
func RideFromGroup(g Group) Ride {
	r := Ride{ID: g.ID, UpdatedAt: g.UpdatedAt}
	if g.Ride != nil {
		r.RideState = *g.Ride
	}
	return r
}

// RideID derives the ride key from the two party connection ids.
func RideID(driverID, riderID string) string {
	return driverID + "-" + riderID
}

// RideEvent is one journaled ride snapshot.
type RideEvent struct {
	RideID          string    `json:"ride_id"`
	Kind            string    `json:"kind"` // accepted, updated, closed
	DriverID        string    `json:"driver_id"`
	RiderID         string    `json:"rider_id"`
	Status          string    `json:"status"`
	DriverLocation  string    `json:"driver_location,omitempty"`
	PickupLocation  string    `json:"pickup_location,omitempty"`
	RideDestination string    `json:"ride_destination,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// RideEventFromGroup snapshots a ride group for the journal.
func RideEventFromGroup(kind string, g Group, at time.Time) RideEvent {
	ev := RideEvent{RideID: g.ID, Kind: kind, RecordedAt: at}
	if g.Ride != nil {
		ev.DriverID = g.Ride.DriverID
		ev.RiderID = g.Ride.RiderID
		ev.Status = g.Ride.Status
		ev.DriverLocation = g.Ride.DriverLocation
		ev.PickupLocation = g.Ride.PickupLocation
		ev.RideDestination = g.Ride.RideDestination
	}
	return ev
}
