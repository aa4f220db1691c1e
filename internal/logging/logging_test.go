package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, logrus.PanicLevel, ParseLevel("silent"))
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "info", Format: "json", Output: &buf})
	Component(logger, "recalc").Info("done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "recalc", line["component"])
	assert.Equal(t, "done", line["msg"])
}

func TestFromContextFallsBack(t *testing.T) {
	fallback := Discard().WithField("component", "engine")
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	scoped := Discard().WithField("request-id", "abc")
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
