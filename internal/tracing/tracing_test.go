package tracing

import (
	"context"
	"testing"
)

func TestStartStepAndPhaseDoNotPanic(t *testing.T) {
	t.Parallel()
	ctx, span := StartStep(context.Background(), 3, "CLICK")
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil context and span")
	}
	defer span.End()

	_, phaseSpan := StartPhase(ctx, "resolve")
	defer phaseSpan.End()
}
