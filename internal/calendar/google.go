package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/repliq-ai/receptionist/pkg/logging"
)

var calendarTracer = otel.Tracer("receptionist.internal.calendar")

// GoogleOracle implements Oracle against the Google Calendar API. The service
// client is constructed lazily on first use so the process can start without
// calendar credentials being reachable.
type GoogleOracle struct {
	calendarID      string
	credentialsJSON []byte
	requestTimeout  time.Duration
	logger          *logging.Logger

	once    sync.Once
	svc     *gcal.Service
	initErr error
}

// NewGoogleOracle prepares an oracle for the given calendar. The returned
// oracle is not validated until the first call.
func NewGoogleOracle(calendarID string, credentialsJSON []byte, requestTimeout time.Duration, logger *logging.Logger) *GoogleOracle {
	if logger == nil {
		logger = logging.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 8 * time.Second
	}
	return &GoogleOracle{
		calendarID:      calendarID,
		credentialsJSON: credentialsJSON,
		requestTimeout:  requestTimeout,
		logger:          logger,
	}
}

// newGoogleOracleWithService injects a prebuilt service, used by tests.
func newGoogleOracleWithService(calendarID string, svc *gcal.Service, logger *logging.Logger) *GoogleOracle {
	o := NewGoogleOracle(calendarID, nil, 0, logger)
	o.once.Do(func() { o.svc = svc })
	return o
}

func (o *GoogleOracle) service(ctx context.Context) (*gcal.Service, error) {
	o.once.Do(func() {
		svc, err := gcal.NewService(ctx, option.WithCredentialsJSON(o.credentialsJSON))
		if err != nil {
			o.initErr = fmt.Errorf("calendar: init service: %w", err)
			return
		}
		o.svc = svc
	})
	if o.initErr != nil {
		return nil, o.initErr
	}
	return o.svc, nil
}

// IsBusy queries free/busy for the interval. Any failure is logged and
// reported as free (fail open).
func (o *GoogleOracle) IsBusy(ctx context.Context, start, end time.Time) (bool, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.is_busy")
	defer span.End()
	span.SetAttributes(
		attribute.String("repliq.calendar_id", o.calendarID),
		attribute.String("repliq.slot_start", start.Format(time.RFC3339)),
	)

	svc, err := o.service(ctx)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("calendar unavailable, assuming free", "error", err)
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: o.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("free/busy query failed, assuming free", "error", err)
		return false, nil
	}

	cal, ok := resp.Calendars[o.calendarID]
	if !ok {
		return false, nil
	}
	return len(cal.Busy) > 0, nil
}

// CreateEvent inserts the appointment event and returns its ID.
func (o *GoogleOracle) CreateEvent(ctx context.Context, start, end time.Time, summary, description string) (string, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.create_event")
	defer span.End()
	span.SetAttributes(attribute.String("repliq.calendar_id", o.calendarID))

	svc, err := o.service(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	event := &gcal.Event{
		Summary:     summary,
		Description: description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	created, err := svc.Events.Insert(o.calendarID, event).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}
