package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

type sent struct {
	subject string
	payload []byte
}

type fakeSender struct{ msgs []sent }

func (f *fakeSender) Publish(_ context.Context, subject string, payload []byte) error {
	f.msgs = append(f.msgs, sent{subject, payload})
	return nil
}

func TestPublisher_NotConnected(t *testing.T) {
	var p *Publisher
	assert.ErrorIs(t, p.Publish(context.Background(), "x", nil), ErrNotConnected)
	assert.ErrorIs(t, (&Publisher{}).Publish(context.Background(), "x", nil), ErrNotConnected)
	p.Close()
}

func TestNewPublisher_Unreachable(t *testing.T) {
	_, err := NewPublisher("nats://127.0.0.1:1", zap.NewNop())
	assert.Error(t, err)
}

func TestOutcomeRecorder_Subject(t *testing.T) {
	f := &fakeSender{}
	r := NewOutcomeRecorder(f, "vmorg.requests")

	require.NoError(t, r.Record(context.Background(), requestengine.Outcome{
		Requestor: "Mike",
		Result:    requestengine.ResultRejected,
	}))

	require.Len(t, f.msgs, 1)
	assert.Equal(t, "vmorg.requests.rejected", f.msgs[0].subject)

	var got requestengine.Outcome
	require.NoError(t, json.Unmarshal(f.msgs[0].payload, &got))
	assert.Equal(t, "Mike", got.Requestor)
}

func TestReportSink(t *testing.T) {
	f := &fakeSender{}
	s := NewReportSink(f, "vmorg")

	report := requestengine.Report{Day: "2026-10-13", FailedBuilds: 3}
	require.NoError(t, s.Consume(context.Background(), report))

	require.Len(t, f.msgs, 1)
	assert.Equal(t, "vmorg.report", f.msgs[0].subject)
	assert.JSONEq(t, `{"day":"2026-10-13","failed_builds":3,"builds_by_requestor":null}`, string(f.msgs[0].payload))
	assert.Equal(t, "nats", s.Name())
}
