package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextFallsBackToBase(t *testing.T) {
	orig := BaseLogger()
	t.Cleanup(func() { SetBase(orig) })

	l := zap.NewNop()
	SetBase(l)
	assert.Same(t, l, FromContext(context.Background()))
}

func TestStartOperationAddsOperationID(t *testing.T) {
	orig := BaseLogger()
	t.Cleanup(func() { SetBase(orig) })

	core, logs := observer.New(zap.InfoLevel)
	SetBase(zap.New(core))

	ctx, l := StartOperation(context.Background(), "mount", zap.String("mount_point", "/mnt/remote"))
	l.Info("first")

	// A nested operation keeps the parent's ID.
	_, nested := StartOperation(ctx, "verify")
	nested.Info("second")

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	second := entries[1].ContextMap()
	assert.Equal(t, "mount", first["operation"])
	assert.Equal(t, "/mnt/remote", first["mount_point"])
	assert.NotEmpty(t, first["operation_id"])
	assert.Equal(t, first["operation_id"], second["operation_id"])
	assert.Equal(t, "verify", second["operation"])
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := Build(Options{Level: "loud"})
	assert.Error(t, err)

	l, err := Build(Options{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
