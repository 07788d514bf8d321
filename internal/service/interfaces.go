package service

import (
	"context"
	"time"

	"mokametrics-ingest/internal/model"
	"mokametrics-ingest/internal/tsdb"
)

// UnitOfWork is the relational store as seen by the router. One instance
// covers one message and commits once.
type UnitOfWork interface {
	GetLotByCode(ctx context.Context, code string) (*model.Lot, error)
	GetOrderWithLots(ctx context.Context, orderID int64) (*model.Order, error)
	GetMachineByCode(ctx context.Context, code string) (*model.Machine, error)
	UpdateLot(l *model.Lot)
	UpdateOrder(o *model.Order)
	UpdateMachine(m *model.Machine)
	SaveChanges(ctx context.Context) (int, error)
}

// UnitOfWorkFactory opens a unit of work. The returned func releases it and
// must be called on every path.
type UnitOfWorkFactory func(ctx context.Context) (UnitOfWork, func(), error)

type PointWriter interface {
	WritePoints(ctx context.Context, points []tsdb.Point) error
}

// Notifier broadcasts dashboard events.
type Notifier interface {
	Publish(event string, payload map[string]any)
}

// Recorder receives pipeline counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	MessageProcessed(topic, result string, elapsed time.Duration)
	PointsWritten(n int)
	DeadLettered(topic string)
}

// Results reported to Recorder.MessageProcessed.
const (
	ResultOK          = "ok"
	ResultDropped     = "dropped"
	ResultRetried     = "retried"
	ResultDeadLetter  = "dead_letter"
	ResultUncommitted = "uncommitted"
)

// Recorders fans counters out to several recorders.
type Recorders []Recorder

func (rs Recorders) MessageProcessed(topic, result string, elapsed time.Duration) {
	for _, r := range rs {
		r.MessageProcessed(topic, result, elapsed)
	}
}

func (rs Recorders) PointsWritten(n int) {
	for _, r := range rs {
		r.PointsWritten(n)
	}
}

func (rs Recorders) DeadLettered(topic string) {
	for _, r := range rs {
		r.DeadLettered(topic)
	}
}

type nopRecorder struct{}

func (nopRecorder) MessageProcessed(string, string, time.Duration) {}
func (nopRecorder) PointsWritten(int)                              {}
func (nopRecorder) DeadLettered(string)                            {}
