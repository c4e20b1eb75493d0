package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

var ErrNotConnected = errors.New("nats not connected")

type Publisher struct {
	nc  *nats.Conn
	url string
}

func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("vmorgd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, url: url}, nil
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p == nil || p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Sender is the publishing half of Publisher.
type Sender interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// OutcomeRecorder publishes every request outcome to <subject>.<result>.
type OutcomeRecorder struct {
	pub     Sender
	subject string
}

func NewOutcomeRecorder(p Sender, subject string) *OutcomeRecorder {
	return &OutcomeRecorder{pub: p, subject: subject}
}

func (r *OutcomeRecorder) Record(ctx context.Context, o requestengine.Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, r.subject+"."+string(o.Result), payload)
}

// ReportSink publishes closed daily reports to <subject>.report.
type ReportSink struct {
	pub     Sender
	subject string
}

func NewReportSink(p Sender, subject string) *ReportSink {
	return &ReportSink{pub: p, subject: subject}
}

func (s *ReportSink) Name() string { return "nats" }

func (s *ReportSink) Consume(ctx context.Context, r requestengine.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.subject+".report", payload)
}
