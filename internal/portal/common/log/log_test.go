package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	entries []string
}

func (l *testLogger) Info(_ map[string]any, msg string)  { l.entries = append(l.entries, "INFO:"+msg) }
func (l *testLogger) Error(_ map[string]any, msg string) { l.entries = append(l.entries, "ERROR:"+msg) }
func (l *testLogger) Debug(_ map[string]any, msg string) { l.entries = append(l.entries, "DEBUG:"+msg) }
func (l *testLogger) Warn(_ map[string]any, msg string)  { l.entries = append(l.entries, "WARN:"+msg) }
func (l *testLogger) Panic(_ map[string]any, msg string) {}
func (l *testLogger) Fatal(_ map[string]any, msg string) {}

func restoreGlobal(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })
}

func TestActualZapLogger(t *testing.T) {
	Debug(map[string]any{
		"name":  "example.com.",
		"count": 42,
		"error": errors.New("boom"),
	}, "test debug")
	Info(nil, "test info")
	Warn(nil, "test warn")
	Error(nil, "test error")

	assert.Panics(t, func() {
		Panic(nil, "test panic")
	})
}

func TestSetLoggerAndGlobalLogging(t *testing.T) {
	restoreGlobal(t)
	tlog := &testLogger{}
	SetLogger(tlog)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(nil, "warn msg")

	assert.Equal(t, []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
	}, tlog.entries)
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		wantErr bool
	}{
		{name: "dev debug", env: "dev", level: "debug"},
		{name: "prod info", env: "prod", level: "info"},
		{name: "upper case level", env: "prod", level: "WARN"},
		{name: "invalid level", env: "dev", level: "notalevel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobal(t)
			err := Configure(tt.env, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, ok := GetLogger().(*zapLogger)
			assert.True(t, ok)
		})
	}
}

func TestNamed(t *testing.T) {
	restoreGlobal(t)

	require.NoError(t, Configure("prod", "info"))
	named := Named("dns")
	_, ok := named.(*zapLogger)
	assert.True(t, ok)
	assert.NotSame(t, GetLogger(), named)

	tlog := &testLogger{}
	SetLogger(tlog)
	assert.Same(t, tlog, Named("http"))
}

func TestZapFields_SortedAndEmpty(t *testing.T) {
	assert.Nil(t, zapFields(nil))

	fields := zapFields(map[string]any{"b": 2, "a": 1, "c": 3})
	require.Len(t, fields, 3)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "b", fields[1].Key)
	assert.Equal(t, "c", fields[2].Key)
}

func TestNoopLogger_AllLevels(t *testing.T) {
	restoreGlobal(t)
	SetLogger(NewNoopLogger())

	Debug(nil, "debug message")
	Info(nil, "info message")
	Warn(nil, "warn message")
	Error(nil, "error message")
	Panic(nil, "panic message")
	Fatal(nil, "fatal message")
}
