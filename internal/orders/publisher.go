package orders

import (
	"context"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"mokametrics-ingest/internal/model"
)

// Sender is satisfied by *service.Producer.
type Sender interface {
	SendWithRetry(ctx context.Context, topic, key, value string, maxAttempts int) bool
}

type Publisher struct {
	sender      Sender
	topic       string
	maxAttempts int
	logger      *zap.SugaredLogger
}

func NewPublisher(sender Sender, topic string, maxAttempts int, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{sender: sender, topic: topic, maxAttempts: maxAttempts, logger: logger}
}

// BuildMessage maps a persisted order to its outbound message. facilities
// resolves lot facility ids to names; unknown ids are sent as empty names.
// Lots stored without a code get one from NewLotCode.
func BuildMessage(order *model.Order, customerName string, facilities map[int64]model.IndustrialFacility) model.NewOrderLotMessage {
	msg := model.NewOrderLotMessage{
		Customer:         customerName,
		QuantityMachines: order.QuantityMachines,
		OrderDate:        model.NewTimestamp(order.OrderDate),
		Lots:             make([]model.LotMessage, 0, len(order.Lots)),
	}
	if order.Deadline != nil {
		d := model.NewTimestamp(*order.Deadline)
		msg.Deadline = &d
	}
	for _, l := range order.Lots {
		facility := facilities[l.IndustrialFacilityID]
		code := l.LotCode
		if code == "" {
			code = NewLotCode(facility.Country, order.OrderDate)
		}
		msg.Lots = append(msg.Lots, model.LotMessage{
			LotCode:            code,
			TotalQuantity:      l.TotalQuantity,
			StartDate:          model.NewTimestamp(l.StartDate),
			IndustrialFacility: facility.Name,
		})
	}
	return msg
}

// PublishOrder sends the order keyed by its id, so every update for one
// order lands on the same partition.
func (p *Publisher) PublishOrder(ctx context.Context, order *model.Order, customerName string, facilities map[int64]model.IndustrialFacility) error {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(BuildMessage(order, customerName, facilities))
	if err != nil {
		return fmt.Errorf("encode order %d: %w", order.ID, err)
	}
	key := strconv.FormatInt(order.ID, 10)
	if !p.sender.SendWithRetry(ctx, p.topic, key, string(body), p.maxAttempts) {
		return fmt.Errorf("publish order %d to %s: attempts exhausted", order.ID, p.topic)
	}
	p.logger.Infow("order published", "order_id", order.ID, "lots", len(order.Lots), "topic", p.topic)
	return nil
}
