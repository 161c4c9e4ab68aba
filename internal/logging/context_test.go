package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContextFallback(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()))
}

func TestAddMetaToContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := AddToContext(context.Background(), logger)
	ctx = AddMetaToContext(ctx, slog.String("requestId", "abc"))
	ctx = AddMetaToContext(ctx, slog.Int("peers", 3))

	FromContext(ctx).Info("hello")
	require.Contains(t, buf.String(), "requestId=abc")
	require.Contains(t, buf.String(), "peers=3")
	require.Contains(t, buf.String(), "msg=hello")
}

func TestFromContextOr(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, fallback, FromContextOr(context.Background(), fallback))

	stored := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := AddToContext(context.Background(), stored)
	require.Same(t, stored, FromContextOr(ctx, fallback))
}
