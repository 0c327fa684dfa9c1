package solar

import (
	"context"
	"time"
)

// TelemetrySource abstracts the inverter monitoring API (e.g. SolarmanPV).
// Failures are reported as *FetchError; a records field that is not an
// array is reported as ErrNotSequence.
type TelemetrySource interface {
	FetchBatch(ctx context.Context, day time.Time, mode Mode) (Batch, error)
}

// TemperatureSource returns the current outdoor temperature in °C, or nil
// when no recent observation exists.
type TemperatureSource interface {
	CurrentOutsideTemp(ctx context.Context) (*float64, error)
}

// StatusUploader forwards a status to the energy-monitoring service.
// Failures are reported as *UploadError.
type StatusUploader interface {
	UploadStatus(ctx context.Context, p StatusPayload) error
}
