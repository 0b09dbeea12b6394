package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/helm-recovery/pkg/fault"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "helm-recovery", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
}

func TestTrackOperation(t *testing.T) {
	p := Disabled()

	ctx, finish := p.TrackOperation(context.Background(), "recovery.approve", RequestAttrs("req-1")...)
	require.NotNil(t, ctx)
	AddSpanEvent(ctx, "approval.recorded", attribute.String("approver", "bob"))
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "recovery.execute")
	// Should not panic
	finish(fault.Policy("time lock"))
}

func TestRequestAttrs(t *testing.T) {
	require.Nil(t, RequestAttrs(""))
	attrs := RequestAttrs("req-1")
	require.Len(t, attrs, 1)
	require.Equal(t, "recovery.request.id", string(attrs[0].Key))
	require.Equal(t, "req-1", attrs[0].Value.AsString())
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "validation", ErrorKind(fault.Validation("x")))
	require.Equal(t, "not_found", ErrorKind(fault.NotFound("x")))
	require.Equal(t, "conflict", ErrorKind(fault.Conflict("x")))
	require.Equal(t, "policy", ErrorKind(fault.Policy("x")))
	require.Equal(t, "unauthorized", ErrorKind(fault.Unauthorized("x")))
	require.Equal(t, "external", ErrorKind(fault.External(errors.New("down"))))
	require.Equal(t, "internal", ErrorKind(errors.New("boom")))
}

func TestShutdownDisabled(t *testing.T) {
	require.NoError(t, Disabled().Shutdown(context.Background()))
}
