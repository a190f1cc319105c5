package requestid

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestEnsure(t *testing.T) {
	assert.Equal(t, "abc", Ensure("abc"))
	assert.Len(t, Ensure(""), 36)
	assert.Len(t, Ensure(strings.Repeat("x", 200)), 36)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	withID := Logger(WithRequestID(context.Background(), "req-1"), base)
	withID.Info().Msg("x")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	withoutID := Logger(context.Background(), base)
	withoutID.Info().Msg("x")
	assert.NotContains(t, buf.String(), "request_id")
}
