// Package parser resolves a Kafka topic to the message variant published on
// it and decodes raw payloads into that variant.
package parser

import (
	"sort"

	jsoniter "github.com/json-iterator/go"

	"mokametrics-ingest/internal/model"
)

// Inbound topics.
const (
	TopicCnc           = "mokametrics.telemetry.cnc"
	TopicLathe         = "mokametrics.telemetry.lathe"
	TopicAssembly      = "mokametrics.telemetry.assembly"
	TopicTesting       = "mokametrics.telemetry.testing"
	TopicLotCompletion = "mokametrics.production.lot_completion"
)

// Variant identifies the message type a topic carries.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantCnc
	VariantLathe
	VariantAssembly
	VariantTesting
	VariantLotCompletion
)

func (v Variant) String() string {
	switch v {
	case VariantCnc:
		return "cnc"
	case VariantLathe:
		return "lathe"
	case VariantAssembly:
		return "assembly"
	case VariantTesting:
		return "testing"
	case VariantLotCompletion:
		return "lot_completion"
	default:
		return "unknown"
	}
}

var jsonFast = jsoniter.ConfigFastest

type decodeFunc func(payload []byte) (model.Message, error)

type entry struct {
	variant Variant
	decode  decodeFunc
}

// decoderFor returns a decodeFunc producing a fresh *T for each payload.
func decoderFor[T any, P interface {
	*T
	model.Message
}]() decodeFunc {
	return func(payload []byte) (model.Message, error) {
		var msg T
		if err := jsonFast.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		return P(&msg), nil
	}
}

// Registry maps topics to decoders. It is read-only after New and safe for
// concurrent use.
type Registry struct {
	entries map[string]entry
}

// New returns a Registry with every inbound topic registered.
func New() *Registry {
	return &Registry{entries: map[string]entry{
		TopicCnc:           {VariantCnc, decoderFor[model.CncMessage]()},
		TopicLathe:         {VariantLathe, decoderFor[model.LatheMessage]()},
		TopicAssembly:      {VariantAssembly, decoderFor[model.AssemblyMessage]()},
		TopicTesting:       {VariantTesting, decoderFor[model.TestingMessage]()},
		TopicLotCompletion: {VariantLotCompletion, decoderFor[model.LotCompletionMessage]()},
	}}
}

func (r *Registry) CanDecode(topic string) bool {
	_, ok := r.entries[topic]
	return ok
}

func (r *Registry) VariantFor(topic string) (Variant, bool) {
	e, ok := r.entries[topic]
	if !ok {
		return VariantUnknown, false
	}
	return e.variant, true
}

// DecodeAs decodes payload into the variant registered for topic. It returns
// *model.UnknownTopicError when nothing is registered and *model.DecodeError
// when the payload does not fit the variant.
func (r *Registry) DecodeAs(topic string, payload []byte) (model.Message, error) {
	e, ok := r.entries[topic]
	if !ok {
		return nil, &model.UnknownTopicError{Topic: topic}
	}
	msg, err := e.decode(payload)
	if err != nil {
		return nil, &model.DecodeError{Topic: topic, Err: err}
	}
	return msg, nil
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.entries))
	for t := range r.entries {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
