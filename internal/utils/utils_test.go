package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetLogLevel(WARNING)

	l.Info("不应出现", nil)
	l.Warn("流空闲", map[string]interface{}{"session": "s1", "attempt": 2})

	out := buf.String()
	assert.NotContains(t, out, "不应出现")
	assert.Contains(t, out, "[WARNING]")
	assert.Contains(t, out, "流空闲 | attempt=2 session=s1")
	assert.Contains(t, out, "utils_test.go")

	buf.Reset()
	l.Enable(false)
	l.Errorf("禁用后 %d", 1)
	assert.Empty(t, buf.String())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("DEBUG"))
	assert.Equal(t, WARNING, ParseLogLevel("warn"))
	assert.Equal(t, ERROR, ParseLogLevel(" error "))
	assert.Equal(t, INFO, ParseLogLevel("verbose"))
}

func TestLogFileName(t *testing.T) {
	day := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "questweaver-2024-03-09.log", LogFileName(day))
}

func TestInitLoggerCreatesDatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	path, err := InitLogger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { GetLogger().Close() })

	assert.Equal(t, filepath.Join(dir, LogFileName(time.Now())), path)

	logger := GetLogger()
	logger.SetOutput(&bytes.Buffer{})
	logger.Info("写入文件", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "写入文件"))
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()

	m.IncrementCounter(MetricEventsApplied)
	m.AddCounter(MetricEventsApplied, 4)
	m.IncGauge(MetricSessionsActive)
	m.IncGauge(MetricSessionsActive)
	m.DecGauge(MetricSessionsActive)
	m.RecordHistogram(MetricGenerationMillis, 30)
	m.RecordDuration(MetricGenerationMillis, 10*time.Millisecond)

	assert.Equal(t, int64(5), m.GetCounterValue(MetricEventsApplied))
	assert.Equal(t, int64(1), m.GetGauge(MetricSessionsActive))
	assert.Equal(t, int64(0), m.GetCounterValue("missing"))

	snapshot := m.GetMetrics()
	hist := snapshot["histograms"].(map[string]map[string]int64)[MetricGenerationMillis]
	assert.Equal(t, map[string]int64{"count": 2, "sum": 40, "min": 10, "max": 30}, hist)
}

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt("sk-test-123", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-test")

	plain, err := Decrypt(sealed, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", plain)

	_, err = Decrypt(sealed, "wrong")
	assert.Error(t, err)

	_, err = Encrypt("x", "")
	assert.Error(t, err)
}
