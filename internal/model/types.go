package model

// SiteMessage is the envelope shared by every message published by a site.
type SiteMessage struct {
	LocalTimestamp *Timestamp `json:"local_timestamp,omitempty"`
	UtcTimestamp   *Timestamp `json:"utc_timestamp,omitempty"`
	Site           string     `json:"site"`
	LotCode        string     `json:"lot_code"`
}

func (m *SiteMessage) Envelope() *SiteMessage { return m }

// MachineMessage extends the envelope with the fields every machine reports.
type MachineMessage struct {
	SiteMessage
	MachineID                          string  `json:"machine_id"`
	Status                             int     `json:"status"`
	CompletedPiecesFromLastMaintenance int     `json:"completed_pieces_from_last_maintenance"`
	Error                              *string `json:"error,omitempty"`
}

func (m *MachineMessage) Machine() *MachineMessage { return m }

// Message is any decoded inbound payload.
type Message interface {
	Envelope() *SiteMessage
}

// Telemetry is a machine message carrying measurements.
type Telemetry interface {
	Message
	Machine() *MachineMessage
}

type CncMessage struct {
	MachineMessage
	CycleTime    StringFloat64 `json:"cycle_time"`
	CuttingDepth StringFloat64 `json:"cutting_depth"`
	Vibration    StringFloat64 `json:"vibration"`
	Alarm        bool          `json:"alarm"`
}

type LatheMessage struct {
	MachineMessage
	RotationSpeed      StringFloat64 `json:"rotation_speed"`
	SpindleTemperature StringFloat64 `json:"spindle_temperature"`
}

// AssemblyMessage carries a small declared field set plus whatever extra
// numeric or boolean readings the assembly station reports (see Extra).
type AssemblyMessage struct {
	MachineMessage
	AverageStationTime StringFloat64  `json:"average_station_time"`
	DefectRate         StringFloat64  `json:"defect_rate"`
	OperatorsCount     int            `json:"operators_count"`
	QualityCheckPassed bool           `json:"quality_check_passed"`
	Extra              map[string]any `json:"-"`
}

type TestingMessage struct {
	MachineMessage
	FunctionalTestResults map[string]bool `json:"functional_test_results"`
	BoilerPressure        StringFloat64   `json:"boiler_pressure"`
	BoilerTemperature     StringFloat64   `json:"boiler_temperature"`
	EnergyConsumption     StringFloat64   `json:"energy_consumption"`
}

type LotCompletionMessage struct {
	SiteMessage
	LotTotalQuantity    int `json:"lot_total_quantity"`
	LotProducedQuantity int `json:"lot_produced_quantity"`
	CncDuration         int `json:"cnc_duration"`
	LatheDuration       int `json:"lathe_duration"`
	AssemblyDuration    int `json:"assembly_duration"`
	TestDuration        int `json:"test_duration"`
}

// NewOrderLotMessage is produced when an order is created; nothing in this
// service consumes it.
type NewOrderLotMessage struct {
	Customer         string       `json:"customer"`
	QuantityMachines int          `json:"quantity_machines"`
	OrderDate        Timestamp    `json:"order_date"`
	Deadline         *Timestamp   `json:"deadline,omitempty"`
	Lots             []LotMessage `json:"lots"`
}

type LotMessage struct {
	LotCode            string    `json:"lot_code"`
	TotalQuantity      int       `json:"total_quantity"`
	StartDate          Timestamp `json:"start_date"`
	IndustrialFacility string    `json:"industrial_facility"`
}
