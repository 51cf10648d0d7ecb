package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() (*logrus.Logger, *bytes.Buffer) {
	log := logrus.New()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func parseLogOutput(buf *bytes.Buffer) map[string]interface{} {
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	if err != nil {
		return nil
	}
	return logEntry
}

func TestNewLoggerLevels(t *testing.T) {
	log := NewLogger("debug", "development")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log = NewLogger("error", "development")
	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
}

func TestNewLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	log := NewLogger("chatty", "development")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewLoggerProductionUsesJSON(t *testing.T) {
	log := NewLogger("info", "production")
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "expected JSON formatter in production")

	log = NewLogger("info", "development")
	_, ok = log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok, "expected text formatter in development")
}

func TestAuditLoggerRecoveryAction(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	auditLogger.LogRecoveryAction(
		"oddsfeed",
		"force_probe",
		"ok",
		"7e4a1a6e-8a3f-4a1e-9d3b-0c5b6f1a2d3e",
		"probe succeeded after breaker reset",
	)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "oddsfeed", logEntry["collector"])
	assert.Equal(t, "force_probe", logEntry["action"])
	assert.Equal(t, "audit", logEntry["component"])
}

func TestAuditLoggerBreakerTransition(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	auditLogger.LogBreakerTransition("sharpsplits", "closed", "open", "consecutive_failures", 60*time.Second)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "open", logEntry["new_state"])
	assert.Equal(t, float64(60), logEntry["cooldown_s"])
}

func TestAuditLoggerAlertEmitted(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	auditLogger.LogAlertEmitted("predicted_failure", "critical", "oddsboard", "corr-1", []string{"console", "webhook"})

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "predicted_failure", logEntry["alert_type"])
	assert.Equal(t, "critical", logEntry["severity"])
}

func TestAuditLoggerPipelineRun(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	auditLogger.LogPipelineRun(
		"3f0b9a2c-1d4e-4f6a-8b7c-9d0e1f2a3b4c",
		"full",
		"succeeded",
		start,
		start.Add(time.Hour),
		map[string]interface{}{"raw": 120, "staging": 118, "curated": 118},
	)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "succeeded", logEntry["status"])
	assert.Equal(t, "full", logEntry["mode"])
}

func TestAuditLoggerQuarantine(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	auditLogger.LogQuarantine("wagerpct", "unresolved_identity", "raw-1", false)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "unresolved_identity", logEntry["reason"])
	assert.Equal(t, "Record quarantined", logEntry["msg"])
}

func TestLoggerJSONFormat(t *testing.T) {
	log, buf := setupTestLogger()
	auditLogger := NewAuditLogger(log)

	auditLogger.LogRecoveryAction("oddsfeed", "reset_breaker", "ok", "corr-2", "")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	assert.NoError(t, err)
	assert.NotEmpty(t, logEntry)
}

func BenchmarkAuditLoggerRecoveryAction(b *testing.B) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	auditLogger := NewAuditLogger(log)

	for i := 0; i < b.N; i++ {
		auditLogger.LogRecoveryAction("oddsfeed", "force_probe", "ok", "corr-3", "")
	}
}
