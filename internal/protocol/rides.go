package protocol

import (
	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/registry"
)

// accept: the sending driver takes riderId. The ride is created on first
// accept and re-merged on repeats.
func (e *Engine) accept(ev Inbound) error {
	var in acceptPayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.RiderID == "" {
		return missing(ev.Event, "riderId")
	}
	driverID := ev.ConnID
	status := rideStatusAccepted
	g, err := e.applyRide(driverID, in.RiderID, true, registry.RidePatch{
		Status:         &status,
		DriverLocation: in.DriverLocation,
	})
	if err != nil {
		return err
	}
	e.record("accepted", g)
	return nil
}

func (e *Engine) findDrivers(ev Inbound) error {
	e.emit(ev.ConnID, EventDrivers, DriversMessage{Drivers: e.members.ListByRole(models.RoleDriver)})
	return nil
}

// requestDriver forwards the rider's record to one driver. Either side
// being unknown makes it a no-op.
func (e *Engine) requestDriver(ev Inbound) error {
	var in requestDriverPayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.DriverID == "" {
		return missing(ev.Event, "driverId")
	}
	if _, ok := e.members.Get(in.DriverID); !ok {
		return nil
	}
	rider, ok := e.members.Get(ev.ConnID)
	if !ok {
		return nil
	}
	e.emit(in.DriverID, EventDriverRequest, DriverRequestMessage{Rider: rider})
	return nil
}

// updateRide merges fields into the ride keyed by driverId-riderId. Only the
// two parties may change it, and only the driver may open a ride this way.
// Parties already bound to another group are not moved.
func (e *Engine) updateRide(ev Inbound) error {
	var in updateRidePayload
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.DriverID == "" {
		return missing(ev.Event, "driverId")
	}
	if in.RiderID == "" {
		return missing(ev.Event, "riderId")
	}
	if ev.ConnID != in.DriverID && ev.ConnID != in.RiderID {
		return ErrNotRideParty
	}
	if _, ok := e.groups.Get(models.RideID(in.DriverID, in.RiderID)); !ok && ev.ConnID != in.DriverID {
		return ErrRideNotStarted
	}
	g, err := e.applyRide(in.DriverID, in.RiderID, false, registry.RidePatch{
		Status:          in.RideStatus,
		DriverLocation:  in.DriverLocation,
		PickupLocation:  in.PickupLocation,
		RideDestination: in.RideDestination,
	})
	if err != nil {
		return err
	}
	e.record("updated", g)
	return nil
}

// applyRide finds or creates the ride, seats both parties on its channel,
// merges patch and broadcasts the result to the ride. With claim set, a party
// bound elsewhere is moved into the ride; otherwise it is left where it is.
func (e *Engine) applyRide(driverID, riderID string, claim bool, patch registry.RidePatch) (models.Group, error) {
	rideID := models.RideID(driverID, riderID)
	seed := models.RideState{DriverID: driverID, RiderID: riderID}
	if p, ok := e.members.Get(driverID); ok {
		seed.Driver = &p
	}
	if p, ok := e.members.Get(riderID); ok {
		seed.Rider = &p
	}
	if _, created, err := e.groups.FindOrCreateRide(rideID, seed); err != nil {
		return models.Group{}, err
	} else if created {
		e.logger.Info("ride created", "ride_id", rideID)
	}
	e.seat(rideID, driverID, claim)
	e.seat(rideID, riderID, claim)

	g, err := e.groups.MergeRide(rideID, patch)
	if err != nil {
		return models.Group{}, err
	}
	e.emitGroup(rideID, EventRideUpdate, RideUpdateMessage{Ride: models.RideFromGroup(g)})
	return g, nil
}

// seat subscribes a ride party and, if it has activated, records it as a
// member so disconnect cleanup can find it.
func (e *Engine) seat(rideID, connID string, claim bool) {
	p, ok := e.members.Get(connID)
	if ok && !claim && p.GroupID != "" && p.GroupID != rideID {
		return
	}
	e.router.Join(connID, rideID)
	if !ok {
		return
	}
	e.bind(p, rideID)
	e.groups.UpsertMember(rideID, models.Member{ID: connID, Name: p.Name, ConnectionID: connID})
}

// closeRide lets either party end the ride.
func (e *Engine) closeRide(ev Inbound, g models.Group) error {
	if g.Ride == nil || (ev.ConnID != g.Ride.DriverID && ev.ConnID != g.Ride.RiderID) {
		return ErrNotRideParty
	}
	closed, ok := e.groups.Close(g.ID)
	if !ok {
		return nil
	}
	e.emitGroup(g.ID, EventGroupClosed, GroupClosedMessage{GroupID: g.ID, Message: "Ride closed"})
	for _, connID := range []string{closed.Ride.DriverID, closed.Ride.RiderID} {
		e.router.Leave(connID, g.ID)
		e.unbind(connID, g.ID)
	}
	e.record("closed", closed)
	e.emitAll(EventRoomList, RoomListMessage{Rooms: e.activeGroups()})
	return nil
}
