package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captured(logger *Logger) *bytes.Buffer {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return buf
}

func TestNew_JSONFormatUsesAgentFieldMap(t *testing.T) {
	logger := New("airflow", "info", "json")
	buf := captured(logger)

	logger.WithFields(map[string]interface{}{"run_key": "run-1"}).Info("run discovered")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run discovered", decoded["message"])
	assert.Equal(t, "airflow", decoded["agent"])
	assert.Equal(t, "run-1", decoded["run_key"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger := New("airflow", "not-a-level", "json")
	assert.Equal(t, "info", logger.GetLevel().String())
}

func TestWithContext_CarriesCorrelationFields(t *testing.T) {
	logger := New("databricks", "info", "json")
	buf := captured(logger)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunKey(ctx, "run-42")
	ctx = WithTaskKey(ctx, "task-7")

	logger.WithContext(ctx).Info("tick")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "trace-123", decoded["trace_id"])
	assert.Equal(t, "run-42", decoded["run_key"])
	assert.Equal(t, "task-7", decoded["task_key"])
	assert.Equal(t, "databricks", decoded["agent"])
}

func TestWithContext_OmitsFieldsAbsentFromContext(t *testing.T) {
	logger := New("qlik", "info", "json")
	buf := captured(logger)

	logger.WithContext(context.Background()).Info("tick")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	_, hasTrace := decoded["trace_id"]
	assert.False(t, hasTrace)
}

func TestWithError_IncludesErrorMessage(t *testing.T) {
	logger := New("powerbi", "info", "json")
	buf := captured(logger)

	logger.WithError(errors.New("boom")).Error("request failed")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "boom", decoded["error"])
}

func TestGetTraceID_RoundTrips(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc")
	assert.Equal(t, "abc", GetTraceID(ctx))
	assert.Equal(t, "", GetTraceID(context.Background()))
}

func TestNewTraceID_ProducesDistinctValues(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}
