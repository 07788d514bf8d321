package model

import "time"

// MachineStatus mirrors the status column of the Machines table.
type MachineStatus int

const (
	MachineOperational MachineStatus = iota + 1
	MachineMaintenance
	MachineAlarm
	MachineOffline
	MachineIdle
)

func (s MachineStatus) String() string {
	switch s {
	case MachineOperational:
		return "Operational"
	case MachineMaintenance:
		return "Maintenance"
	case MachineAlarm:
		return "Alarm"
	case MachineOffline:
		return "Offline"
	case MachineIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// Entity holds the bookkeeping columns every table carries.
type Entity struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Touch stamps UpdatedAt. Handlers call it where they mutate an entity.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = &now
}

type Customer struct {
	Entity
	Name     string
	Email    string
	FiscalID string
}

type IndustrialFacility struct {
	Entity
	Name    string
	Country string
	City    string
}

type Order struct {
	Entity
	CustomerID       int64
	QuantityMachines int
	OrderDate        time.Time
	Deadline         *time.Time
	FulfilledDate    *time.Time
	Lots             []*Lot
}

// Fulfilled reports whether every lot of the order is complete.
func (o *Order) Fulfilled() bool {
	if len(o.Lots) == 0 {
		return false
	}
	for _, l := range o.Lots {
		if !l.Complete() {
			return false
		}
	}
	return true
}

type Lot struct {
	Entity
	OrderID              int64
	IndustrialFacilityID int64
	LotCode              string
	TotalQuantity        int
	ManufacturedQuantity int
	StartDate            time.Time
	EndDate              *time.Time
}

func (l *Lot) Complete() bool {
	return l.ManufacturedQuantity == l.TotalQuantity
}

// RecordProduction applies a produced quantity reported by the line. The
// stored quantity never decreases and never exceeds TotalQuantity. EndDate is
// set the first time the lot becomes complete. It returns true when the
// stored values changed.
func (l *Lot) RecordProduction(produced int, now time.Time) bool {
	if produced > l.TotalQuantity {
		produced = l.TotalQuantity
	}
	changed := false
	if produced > l.ManufacturedQuantity {
		l.ManufacturedQuantity = produced
		changed = true
	}
	if l.Complete() && l.EndDate == nil {
		end := now
		l.EndDate = &end
		changed = true
	}
	if changed {
		l.Touch(now)
	}
	return changed
}

type Machine struct {
	Entity
	Code                 string
	Model                string
	Status               MachineStatus
	IndustrialFacilityID int64
}
