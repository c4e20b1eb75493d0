package requestengine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
)

// AuthorisingService decides whether a requestor may provision machines.
type AuthorisingService interface {
	IsAuthorised(ctx context.Context, requestor string) bool
}

// SystemBuildService provisions a machine. An empty id means the machine was
// not created; there is no other error channel.
type SystemBuildService interface {
	CreateNewMachine(ctx context.Context, m machine.Machine) string
}

// Result classifies the outcome of one request.
type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultRejected  Result = "rejected"
	ResultFailed    Result = "failed"
)

// Outcome describes a finished request for Recorders.
type Outcome struct {
	Requestor  string       `json:"requestor"`
	Kind       machine.Kind `json:"kind"`
	MachineKey string       `json:"machine_key"`
	BuildID    string       `json:"build_id,omitempty"`
	Result     Result       `json:"result"`
	At         time.Time    `json:"at"`
}

// Recorder observes outcomes after the engine has accounted for them.
// Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

var errNilMachine = errors.New("requestengine: nil machine")

// Engine authorises requests, delegates builds and keeps the day's statistics.
type Engine struct {
	auth      AuthorisingService
	builder   SystemBuildService
	stats     *DailyStats
	recorders []Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithRecorder(r ...Recorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, r...) }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the clock that stamps days and outcomes.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine around its two collaborators.
func New(auth AuthorisingService, builder SystemBuildService, opts ...Option) *Engine {
	e := &Engine{
		auth:    auth,
		builder: builder,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("vmorg/requestengine"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stats = NewDailyStats(e.now())
	return e
}

// CreateNewRequest authorises m's requestor, asks the build service for the
// machine and records the result. Failures are counted before the error is
// returned, so ignoring the error does not skip the bookkeeping.
func (e *Engine) CreateNewRequest(ctx context.Context, m machine.Machine) error {
	if machine.IsNil(m) {
		return errNilMachine
	}
	requestor := m.RequestorName()
	key := m.Key()

	ctx, span := e.tracer.Start(ctx, "requestengine.CreateNewRequest",
		trace.WithAttributes(
			attribute.String("vmorg.requestor", requestor),
			attribute.String("vmorg.machine.kind", string(m.Kind())),
		))
	defer span.End()

	out := Outcome{Requestor: requestor, Kind: m.Kind(), MachineKey: key}

	if !e.auth.IsAuthorised(ctx, requestor) {
		failed := e.stats.RecordFailure()
		err := &UserNotEntitledError{Requestor: requestor, MachineKey: key}
		e.logger.Warn("request rejected",
			zap.String("requestor", requestor),
			zap.String("machine", key),
			zap.Int("failed_today", failed))
		span.SetStatus(codes.Error, err.Error())
		out.Result = ResultRejected
		e.record(ctx, out)
		return err
	}

	id := e.builder.CreateNewMachine(ctx, m)
	if id == "" {
		failed := e.stats.RecordFailure()
		err := &MachineNotCreatedError{Requestor: requestor, MachineKey: key}
		e.logger.Warn("build failed",
			zap.String("requestor", requestor),
			zap.String("machine", key),
			zap.Int("failed_today", failed))
		span.SetStatus(codes.Error, err.Error())
		out.Result = ResultFailed
		e.record(ctx, out)
		return err
	}

	count := e.stats.RecordSuccess(requestor, key)
	e.logger.Info("machine built",
		zap.String("requestor", requestor),
		zap.String("machine", key),
		zap.String("build_id", id),
		zap.Int("count_today", count))
	span.SetAttributes(attribute.String("vmorg.build_id", id))
	out.BuildID = id
	out.Result = ResultSucceeded
	e.record(ctx, out)
	return nil
}

// TotalFailedBuildsForDay returns the number of rejected or failed requests today.
func (e *Engine) TotalFailedBuildsForDay() int {
	return e.stats.Failed()
}

// TotalBuildsByUserForDay returns requestor -> machine key -> successful builds.
// The result is a copy.
func (e *Engine) TotalBuildsByUserForDay() map[string]map[string]int {
	return e.stats.Builds()
}

// Snapshot returns the current day's report without resetting it.
func (e *Engine) Snapshot() Report {
	return e.stats.Snapshot()
}

// ResetDay closes the current day and returns its report. The new day is the
// one containing now.
func (e *Engine) ResetDay(now time.Time) Report {
	closed := e.stats.Reset(now)
	e.logger.Info("daily statistics reset",
		zap.String("closed_day", closed.Day),
		zap.Int("failed_builds", closed.FailedBuilds),
		zap.Int("requestors", len(closed.BuildsByRequestor)))
	return closed
}

func (e *Engine) record(ctx context.Context, o Outcome) {
	if len(e.recorders) == 0 {
		return
	}
	o.At = e.now()
	for _, r := range e.recorders {
		if err := r.Record(ctx, o); err != nil {
			e.logger.Warn("recorder failed",
				zap.String("result", string(o.Result)),
				zap.Error(err))
		}
	}
}
