package solar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects which Solarman endpoint feeds the relay.
type Mode int

const (
	// ModeInverter reads per-inverter data (/device/inverter/data).
	ModeInverter Mode = iota
	// ModePower reads plant-level power (/plant/power).
	ModePower
)

func (m Mode) String() string {
	switch m {
	case ModePower:
		return "power"
	case ModeInverter:
		return "inverter"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "power" or "inverter" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "power":
		return ModePower, nil
	case "inverter", "":
		return ModeInverter, nil
	default:
		return 0, fmt.Errorf("unknown data mode %q", s)
	}
}

// timestampLayout is the format contract for record timestamps in each mode.
// Plant power is reported in UTC with a literal Z; inverter data carries the
// plant's fixed offset.
func (m Mode) timestampLayout() string {
	if m == ModePower {
		return "2006-01-02T15:04:05Z"
	}
	return "2006-01-02T15:04:05-07:00"
}

// Record is a single telemetry row as returned by the Solarman API.
// Both modes share Timestamp and Power; the remaining fields are only
// reported in inverter mode.
type Record struct {
	Timestamp string  `json:"time"`
	Power     float64 `json:"power"`

	IPv1 *float64 `json:"iPv1,omitempty"` // DC input current, string 1
	IPv2 *float64 `json:"iPv2,omitempty"`
	VPv1 *float64 `json:"vPv1,omitempty"` // DC input voltage, string 1
	VPv2 *float64 `json:"vPv2,omitempty"`
	Iac1 *float64 `json:"iac1,omitempty"` // AC output current
	Vac1 *float64 `json:"vac1,omitempty"` // AC output voltage, primary phase
	Fac  *float64 `json:"fac,omitempty"`  // grid frequency
}

// UnmarshalJSON decodes a record field by field. A time that is not a JSON
// string keeps its raw text, so it fails timestamp parsing instead of the
// whole batch. Numeric fields accept numbers or numeric strings; anything
// else is dropped.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		Time  json.RawMessage `json:"time"`
		Power json.RawMessage `json:"power"`
		IPv1  json.RawMessage `json:"iPv1"`
		IPv2  json.RawMessage `json:"iPv2"`
		VPv1  json.RawMessage `json:"vPv1"`
		VPv2  json.RawMessage `json:"vPv2"`
		Iac1  json.RawMessage `json:"iac1"`
		Vac1  json.RawMessage `json:"vac1"`
		Fac   json.RawMessage `json:"fac"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = Record{
		Timestamp: looseString(raw.Time),
		IPv1:      looseFloat(raw.IPv1),
		IPv2:      looseFloat(raw.IPv2),
		VPv1:      looseFloat(raw.VPv1),
		VPv2:      looseFloat(raw.VPv2),
		Iac1:      looseFloat(raw.Iac1),
		Vac1:      looseFloat(raw.Vac1),
		Fac:       looseFloat(raw.Fac),
	}
	if p := looseFloat(raw.Power); p != nil {
		r.Power = *p
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func looseFloat(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

// Batch is one day's worth of records for one mode.
type Batch struct {
	Mode    Mode
	Records []Record
}

// Sample is the record chosen as most recent, with its parsed instant.
type Sample struct {
	Record
	Instant time.Time
}

// StatusPayload is a single PVOutput status: local date/time plus readings.
type StatusPayload struct {
	Date        string   `json:"date" validate:"required,len=8,numeric"`
	Time        string   `json:"time" validate:"required,len=5"`
	Power       float64  `json:"power" validate:"gt=0"`
	Voltage     *float64 `json:"voltage,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Decision explains why BuildPayload did or did not produce a payload.
type Decision int

const (
	DecisionUpload Decision = iota
	DecisionNoSample
	DecisionSkipNoGeneration
)

func (d Decision) String() string {
	switch d {
	case DecisionUpload:
		return "upload"
	case DecisionNoSample:
		return "no-sample"
	case DecisionSkipNoGeneration:
		return "skip-no-generation"
	default:
		return "unknown"
	}
}
