package solar

import "time"

const (
	payloadDateLayout = "20060102"
	payloadTimeLayout = "15:04"
)

// BuildPayload turns the selected sample into a PVOutput status.
// It returns nil when there is no sample or the inverter is not generating;
// zero readings are never forwarded. Voltage is only reported in inverter mode.
func BuildPayload(s Sample, ok bool, ambient *float64, mode Mode, loc *time.Location) (*StatusPayload, Decision) {
	if !ok {
		return nil, DecisionNoSample
	}
	if loc == nil {
		loc = time.Local
	}

	local := s.Instant.In(loc)

	if s.Power <= 0 {
		return nil, DecisionSkipNoGeneration
	}

	p := &StatusPayload{
		Date:        local.Format(payloadDateLayout),
		Time:        local.Format(payloadTimeLayout),
		Power:       s.Power,
		Temperature: ambient,
	}
	if mode == ModeInverter && s.Vac1 != nil {
		v := *s.Vac1
		p.Voltage = &v
	}
	return p, DecisionUpload
}
