package solar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the terminal state of one relay run.
type Status int

const (
	StatusUploaded Status = iota
	StatusSkipped
	StatusNoData
	StatusFetchFailed
	StatusUploadFailed
)

func (s Status) String() string {
	switch s {
	case StatusUploaded:
		return "uploaded"
	case StatusSkipped:
		return "skipped"
	case StatusNoData:
		return "no-data"
	case StatusFetchFailed:
		return "fetch-failed"
	case StatusUploadFailed:
		return "upload-failed"
	default:
		return "unknown"
	}
}

// Result describes what a run did.
type Result struct {
	RunID       string
	Status      Status
	Sample      *Sample
	Temperature *float64
	Payload     *StatusPayload
}

// ExitCode maps the run status to a process exit code.
func (r Result) ExitCode() int {
	switch r.Status {
	case StatusFetchFailed:
		return 2
	case StatusUploadFailed:
		return 3
	default:
		return 0
	}
}

// Service relays the most recent telemetry sample to the upload service.
type Service struct {
	telemetry   TelemetrySource
	temperature TemperatureSource
	uploader    StatusUploader
	mode        Mode
	loc         *time.Location
	logger      *zap.Logger

	now      func() time.Time
	newRunID func() string
}

// NewService creates a new Service. temperature may be nil when no weather
// station is configured.
func NewService(
	telemetry TelemetrySource,
	temperature TemperatureSource,
	uploader StatusUploader,
	mode Mode,
	loc *time.Location,
	logger *zap.Logger,
) *Service {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		telemetry:   telemetry,
		temperature: temperature,
		uploader:    uploader,
		mode:        mode,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
		newRunID:    func() string { return uuid.NewString() },
	}
}

// Run performs one Fetch -> Decide -> Upload pass. It never retries.
// The returned error is non-nil only for StatusFetchFailed and
// StatusUploadFailed.
func (s *Service) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: s.newRunID()}
	log := s.logger.With(
		zap.String("run_id", res.RunID),
		zap.Stringer("mode", s.mode),
	)

	res.Temperature = s.lookupTemperature(ctx, log)

	day := s.now().In(s.loc)
	batch, err := s.telemetry.FetchBatch(ctx, day, s.mode)
	if err != nil {
		if errors.Is(err, ErrNotSequence) {
			log.Warn("telemetry response has no record list; nothing to relay", zap.Error(err))
			res.Status = StatusNoData
			return res, nil
		}
		log.Error("telemetry fetch failed", zap.Error(err))
		res.Status = StatusFetchFailed
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Op: "batch", Err: err}
		}
		return res, err
	}

	if n := MalformedCount(batch); n > 0 {
		log.Debug("records with malformed timestamps ordered last",
			zap.Int("malformed", n),
			zap.Int("records", len(batch.Records)),
		)
	}

	sample, ok := SelectMostRecent(batch)
	if ok {
		res.Sample = &sample
		s.logSample(log, sample)
	}

	payload, decision := BuildPayload(sample, ok, res.Temperature, s.mode, s.loc)
	switch decision {
	case DecisionNoSample:
		log.Debug("no usable telemetry for today; no further action", zap.Int("records", len(batch.Records)))
		res.Status = StatusNoData
		return res, nil
	case DecisionSkipNoGeneration:
		log.Debug("no need to update", zap.Float64("power_w", sample.Power))
		res.Status = StatusSkipped
		return res, nil
	}

	res.Payload = payload
	if err := s.uploader.UploadStatus(ctx, *payload); err != nil {
		log.Error("status upload failed", zap.Error(err))
		res.Status = StatusUploadFailed
		var ue *UploadError
		if !errors.As(err, &ue) {
			err = &UploadError{Err: err}
		}
		return res, err
	}

	log.Info("status uploaded",
		zap.String("date", payload.Date),
		zap.String("time", payload.Time),
		zap.Float64("power_w", payload.Power),
	)
	res.Status = StatusUploaded
	return res, nil
}

// lookupTemperature is best-effort: any failure yields nil.
func (s *Service) lookupTemperature(ctx context.Context, log *zap.Logger) *float64 {
	if s.temperature == nil {
		return nil
	}
	temp, err := s.temperature.CurrentOutsideTemp(ctx)
	if err != nil {
		log.Debug("ambient temperature unavailable", zap.Error(&LookupError{Err: err}))
		return nil
	}
	if temp == nil {
		log.Debug("no recent ambient temperature")
		return nil
	}
	log.Debug("current outside temp", zap.Float64("temp_c", *temp))
	return temp
}

func (s *Service) logSample(log *zap.Logger, sample Sample) {
	fields := []zap.Field{
		zap.String("time", sample.Timestamp),
		zap.Float64("power_w", sample.Power),
	}
	for name, v := range map[string]*float64{
		"ipv1_a": sample.IPv1,
		"ipv2_a": sample.IPv2,
		"vpv1_v": sample.VPv1,
		"vpv2_v": sample.VPv2,
		"iac1_a": sample.Iac1,
		"vac1_v": sample.Vac1,
		"fac_hz": sample.Fac,
	} {
		if v != nil {
			fields = append(fields, zap.Float64(name, *v))
		}
	}
	log.Debug("most recent sample", fields...)
}
