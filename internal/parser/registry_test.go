package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mokametrics-ingest/internal/model"
)

func TestRegistryResolvesEveryInboundTopic(t *testing.T) {
	r := New()
	want := map[string]Variant{
		TopicCnc:           VariantCnc,
		TopicLathe:         VariantLathe,
		TopicAssembly:      VariantAssembly,
		TopicTesting:       VariantTesting,
		TopicLotCompletion: VariantLotCompletion,
	}
	for topic, variant := range want {
		assert.True(t, r.CanDecode(topic), topic)
		got, ok := r.VariantFor(topic)
		require.True(t, ok, topic)
		assert.Equal(t, variant, got)
	}
	assert.Len(t, r.Topics(), len(want))

	assert.False(t, r.CanDecode("mokametrics.order"))
	v, ok := r.VariantFor("mokametrics.order")
	assert.False(t, ok)
	assert.Equal(t, VariantUnknown, v)
}

func TestDecodeCncMessage(t *testing.T) {
	payload := []byte(`{
		"local_timestamp": "2025-01-01T11:00:00+01:00",
		"utc_timestamp": "2025-01-01T10:00:00Z",
		"site": "Italy",
		"lot_code": "LOT-IT-20250101-ab12cd34",
		"machine_id": "M1",
		"status": 1,
		"completed_pieces_from_last_maintenance": 17,
		"cycle_time": 12.5,
		"cutting_depth": "0.8",
		"vibration": 0.02,
		"alarm": false,
		"error": "None",
		"firmware": "v2"
	}`)

	msg, err := New().DecodeAs(TopicCnc, payload)
	require.NoError(t, err)

	cnc, ok := msg.(*model.CncMessage)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "Italy", cnc.Site)
	assert.Equal(t, "M1", cnc.MachineID)
	assert.Equal(t, 17, cnc.CompletedPiecesFromLastMaintenance)
	assert.Equal(t, model.StringFloat64(12.5), cnc.CycleTime)
	assert.Equal(t, model.StringFloat64(0.8), cnc.CuttingDepth)
	require.NotNil(t, cnc.Error)
	assert.Equal(t, "None", *cnc.Error)
	require.NotNil(t, cnc.UtcTimestamp)
	assert.Equal(t, 10, cnc.UtcTimestamp.Hour())
}

func TestDecodeMissingFieldsTakeZeroValues(t *testing.T) {
	msg, err := New().DecodeAs(TopicLathe, []byte(`{"site":"Brazil","machine_id":"L2"}`))
	require.NoError(t, err)

	lathe := msg.(*model.LatheMessage)
	assert.Nil(t, lathe.Error)
	assert.Nil(t, lathe.UtcTimestamp)
	assert.Zero(t, lathe.RotationSpeed)
}

func TestDecodeTestingAndLotCompletion(t *testing.T) {
	r := New()

	msg, err := r.DecodeAs(TopicTesting, []byte(`{
		"site":"Vietnam","machine_id":"T1",
		"functional_test_results":{"pressure_hold":true,"leak":false},
		"boiler_pressure":1.2
	}`))
	require.NoError(t, err)
	tm := msg.(*model.TestingMessage)
	assert.Equal(t, map[string]bool{"pressure_hold": true, "leak": false}, tm.FunctionalTestResults)

	msg, err = r.DecodeAs(TopicLotCompletion, []byte(`{
		"site":"Italy","lot_code":"LOT-1","lot_total_quantity":10,"lot_produced_quantity":7,"cnc_duration":30
	}`))
	require.NoError(t, err)
	lc := msg.(*model.LotCompletionMessage)
	assert.Equal(t, "LOT-1", lc.LotCode)
	assert.Equal(t, 10, lc.LotTotalQuantity)
	assert.Equal(t, 7, lc.LotProducedQuantity)
	assert.Equal(t, 30, lc.CncDuration)
}

func TestDecodeErrors(t *testing.T) {
	r := New()

	_, err := r.DecodeAs("mokametrics.unknown", []byte(`{}`))
	var unknown *model.UnknownTopicError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "mokametrics.unknown", unknown.Topic)

	_, err = r.DecodeAs(TopicCnc, []byte(`{"site": `))
	var decode *model.DecodeError
	require.True(t, errors.As(err, &decode))
	assert.Equal(t, TopicCnc, decode.Topic)

	_, err = r.DecodeAs(TopicLotCompletion, []byte(`{"lot_produced_quantity": "many"}`))
	require.True(t, errors.As(err, &decode))
	assert.False(t, errors.As(err, &unknown))
}
