package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "span_test.txt")
	require.NoError(t, Init("bpu", "0.0.1", fname))

	ctx, span := StartSpan(context.Background(), "core.reset")
	span.WithCore(1).WithAttributes(map[string]string{"k": "v"})
	_, child := StartSpan(ctx, "backend.reset")
	EndSpan(child, errors.New("reset failed"))
	EndSpan(span, nil)

	got, ok := SpanFromContext(ctx)
	assert.True(t, ok)
	assert.NotNil(t, got)

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSpan_Nil(t *testing.T) {
	var span *Span
	assert.Nil(t, span.WithCore(1))
	span.SetStatus(nil)
	EndSpan(nil, nil)
	_, ok := SpanFromContext(context.Background())
	assert.False(t, ok)
}
