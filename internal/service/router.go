package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mokametrics-ingest/internal/model"
	"mokametrics-ingest/internal/parser"
	"mokametrics-ingest/internal/realtime"
)

type handlerFunc func(ctx context.Context, msg model.Message) error

// Router decodes inbound records and applies them to the stores. Handlers
// run synchronously and return a classified error (see model.Retryable).
type Router struct {
	registry *parser.Registry
	points   PointWriter
	openUoW  UnitOfWorkFactory
	notifier Notifier
	recorder Recorder
	logger   *zap.SugaredLogger
	now      func() time.Time

	handlers map[string]handlerFunc
}

func NewRouter(registry *parser.Registry, points PointWriter, openUoW UnitOfWorkFactory, notifier Notifier, recorder Recorder, logger *zap.SugaredLogger) *Router {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	r := &Router{
		registry: registry,
		points:   points,
		openUoW:  openUoW,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		handlers: make(map[string]handlerFunc),
	}

	for _, topic := range registry.Topics() {
		variant, _ := registry.VariantFor(topic)
		switch variant {
		case parser.VariantCnc, parser.VariantLathe, parser.VariantAssembly, parser.VariantTesting:
			r.handlers[topic] = r.handleTelemetry
		case parser.VariantLotCompletion:
			r.handlers[topic] = r.handleLotCompletion
		}
	}
	return r
}

// Topics returns the topics the router has a handler for.
func (r *Router) Topics() []string {
	var topics []string
	for _, t := range r.registry.Topics() {
		if _, ok := r.handlers[t]; ok {
			topics = append(topics, t)
		}
	}
	return topics
}

// Process decodes value as the variant registered for topic and runs its
// handler.
func (r *Router) Process(ctx context.Context, topic string, key, value []byte) error {
	handler, ok := r.handlers[topic]
	if !ok {
		r.logger.Warnw("no handler for topic, dropping record", "topic", topic, "key", string(key))
		return &model.UnknownTopicError{Topic: topic}
	}

	msg, err := r.registry.DecodeAs(topic, value)
	if err != nil {
		return err
	}
	return handler(ctx, msg)
}

func (r *Router) handleTelemetry(ctx context.Context, msg model.Message) error {
	tm, ok := msg.(model.Telemetry)
	if !ok {
		return &model.DecodeError{Topic: "telemetry", Err: errors.New("not a machine message")}
	}
	m := tm.Machine()
	now := r.now().UTC()

	points, err := telemetryPoints(tm, now)
	if err != nil {
		return &model.DecodeError{Topic: "telemetry", Err: err}
	}
	status, errText := deriveStatus(m.Error)
	points = append(points, statusPoint(m, status, errText, now))

	if err := r.points.WritePoints(ctx, points); err != nil {
		return &model.StoreWriteError{Store: "influxdb", Op: "write points", Err: err}
	}
	r.recorder.PointsWritten(len(points))

	var errMsg any
	if errText != "" {
		errMsg = errText
	}
	r.notifier.Publish(realtime.EventStatus, map[string]any{
		"location":     machineTags(m)["location"],
		"machine":      m.MachineID,
		"status":       status.String(),
		"errorMessage": errMsg,
	})

	return r.updateMachineStatus(ctx, m.MachineID, status, now)
}

func (r *Router) updateMachineStatus(ctx context.Context, code string, status model.MachineStatus, now time.Time) error {
	uow, release, err := r.openUoW(ctx)
	if err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "open unit of work", Err: err}
	}
	defer release()

	machine, err := uow.GetMachineByCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		r.logger.Infow("machine not registered, status not persisted", "machine", code)
		return nil
	}
	if err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "get machine", Err: err}
	}

	machine.Status = status
	machine.Touch(now)
	uow.UpdateMachine(machine)
	if _, err := uow.SaveChanges(ctx); err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "save machine status", Err: err}
	}
	return nil
}

func (r *Router) handleLotCompletion(ctx context.Context, msg model.Message) error {
	lc, ok := msg.(*model.LotCompletionMessage)
	if !ok {
		return &model.DecodeError{Topic: parser.TopicLotCompletion, Err: errors.New("not a lot completion message")}
	}
	now := r.now().UTC()

	uow, release, err := r.openUoW(ctx)
	if err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "open unit of work", Err: err}
	}
	defer release()

	lot, err := uow.GetLotByCode(ctx, lc.LotCode)
	if errors.Is(err, model.ErrNotFound) {
		r.logger.Warnw("lot completion for unknown lot, dropping", "lot_code", lc.LotCode)
		return nil
	}
	if err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "get lot", Err: err}
	}

	if lot.RecordProduction(lc.LotProducedQuantity, now) {
		uow.UpdateLot(lot)
	}

	var fulfilled *model.Order
	if lot.Complete() {
		order, err := uow.GetOrderWithLots(ctx, lot.OrderID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			r.logger.Warnw("lot references missing order", "lot_code", lot.LotCode, "order_id", lot.OrderID)
		case err != nil:
			return &model.StoreWriteError{Store: "postgres", Op: "get order", Err: err}
		default:
			// the order's copy of this lot predates the update above
			for i, sibling := range order.Lots {
				if sibling.ID == lot.ID {
					order.Lots[i] = lot
				}
			}
			if order.FulfilledDate == nil && order.Fulfilled() {
				at := now
				order.FulfilledDate = &at
				order.Touch(now)
				uow.UpdateOrder(order)
				fulfilled = order
			}
		}
	}

	if _, err := uow.SaveChanges(ctx); err != nil {
		return &model.StoreWriteError{Store: "postgres", Op: "save lot completion", Err: err}
	}

	if fulfilled != nil {
		r.logger.Infow("order fulfilled", "order_id", fulfilled.ID, "lot_code", lot.LotCode)
		r.notifier.Publish(realtime.EventOrderFulfilled, map[string]any{
			"orderId":       fulfilled.ID,
			"fulfilledDate": fulfilled.FulfilledDate.Format(time.RFC3339Nano),
		})
	}
	r.notifier.Publish(realtime.EventLotCompleted, map[string]any{
		"lotCode":             lc.LotCode,
		"lotProducedQuantity": lc.LotProducedQuantity,
	})
	return nil
}
