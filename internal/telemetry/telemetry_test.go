package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledByDefaultStillUsable(t *testing.T) {
	tel, err := New(context.Background(), "", "", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctx, span := tel.StartSpan(context.Background(), "test.span")
	EndSpanWithError(span, nil)
	_ = ctx

	tel.RecordRPC("daemon.ping", "ok", 5*time.Millisecond)
	tel.RecordEnvelopeDelivery("channel", "ok")
	tel.RecordAgentRun("nex", "completed", 10*time.Millisecond)
	tel.SetActiveSessions(2)
}

func TestRecordRPCIncrementsRegisteredCounter(t *testing.T) {
	tel, err := New(context.Background(), "127.0.0.1:0", "", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.RecordRPC("daemon.ping", "ok", time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(tel.rpcRequestsTotal.WithLabelValues("daemon.ping", "ok")))
}

func TestShutdownIsIdempotentSafeWithNothingEnabled(t *testing.T) {
	tel, err := New(context.Background(), "", "", "test")
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(context.Background()))
}
