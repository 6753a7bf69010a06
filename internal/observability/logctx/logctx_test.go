package logctx

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (r *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), r.fields...), fields...)}
}

func TestFromOrFallsBack(t *testing.T) {
	assert.NotNil(t, FromOr(context.Background(), nil))

	base := &recordingLogger{Logger: observability.NopLogger()}
	assert.Same(t, base, FromOr(context.Background(), base))

	ctx := With(context.Background(), base)
	assert.Same(t, base, From(ctx))
}

func TestEnrichStoresLogger(t *testing.T) {
	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx, logger := Enrich(context.Background(), base, observability.F("use_case", "x"))

	got, ok := From(ctx).(*recordingLogger)
	assert.True(t, ok)
	assert.Same(t, logger, From(ctx))
	assert.Equal(t, []observability.Field{observability.F("use_case", "x")}, got.fields)
}
