/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		" WARN ":  logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"chatty":  logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestNewLogger_IsCachedAndLevelAdjustable(t *testing.T) {
	a := NewLogger("UTILS_TEST")
	b := NewLogger("UTILS_TEST")
	require.Same(t, a, b)

	assert.True(t, SetLoggerLevel("UTILS_TEST", "error"))
	assert.Equal(t, logrus.ErrorLevel, a.GetLevel())
	assert.False(t, SetLoggerLevel("NO_SUCH_LOGGER", "debug"))
}

func TestLog4jColorFormatter(t *testing.T) {
	f := &Log4jColorFormatter{LoggerName: "DATABASE", NameWidth: 10, CallerWidth: 28}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "Database connected successfully",
		Data:    logrus.Fields{"dialect": "pg", "applied": 3},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	line := string(out)
	assert.Contains(t, line, "2025-01-02 03:04:05.000")
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "DATABASE")
	assert.Contains(t, line, ": Database connected successfully applied=3 dialect=pg\n")
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "DATABASE"}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.ErrorLevel,
		Message: "Migration failed",
		Data:    logrus.Fields{"version": 2, "error": errors.New("syntax error")},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &rec))
	assert.Equal(t, "error", rec["level"])
	assert.Equal(t, "DATABASE", rec["logger"])
	assert.Equal(t, "Migration failed", rec["message"])
	fields := rec["fields"].(map[string]interface{})
	assert.Equal(t, "syntax error", fields["error"])
	assert.EqualValues(t, 2, fields["version"])
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("UTILS_TEST_STR", "value")
	t.Setenv("UTILS_TEST_BOOL", "yes")
	t.Setenv("UTILS_TEST_DURATION", "45s")

	assert.Equal(t, "value", EnvDefaultString("UTILS_TEST_STR", "def"))
	assert.Equal(t, "def", EnvDefaultString("UTILS_TEST_UNSET", "def"))
	assert.True(t, EnvDefaultBool("UTILS_TEST_BOOL", true), "unparsable falls back")
	assert.Equal(t, 45*time.Second, EnvDefaultDuration("UTILS_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, EnvDefaultDuration("UTILS_TEST_UNSET", time.Second))
}

// logVia stands in for a logging wrapper such as the database package logger.
func logVia(l *logrus.Logger, msg string) {
	WithCaller(l.WithField("dialect", "pg"), 1).Warn(msg)
}

func TestWithCaller_ReportsWrapperCaller(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetReportCaller(true)
	l.SetFormatter(&Log4jColorFormatter{LoggerName: "DATABASE", NameWidth: 10, CallerWidth: 28})

	_, _, line, _ := runtime.Caller(0)
	logVia(l, "pool exhausted")

	out := buf.String()
	assert.Contains(t, out, "utils/logger_test.go:"+strconv.Itoa(line+1))
	assert.Contains(t, out, ": pool exhausted dialect=pg\n")
	assert.NotContains(t, out, callerField)

	buf.Reset()
	l.SetFormatter(&JSONLogFormatter{LoggerName: "DATABASE"})
	logVia(l, "pool exhausted")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Contains(t, rec["caller"], "utils/logger_test.go:")
	assert.Equal(t, map[string]interface{}{"dialect": "pg"}, rec["fields"])
}

func TestConfigureConcurrently(t *testing.T) {
	t.Cleanup(func() {
		ConfigureLogLevel("info")
		ConfigureConsoleLogFormat("text")
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			ConfigureLogLevel("warn")
		}()
		go func() {
			defer wg.Done()
			ConfigureConsoleLogFormat("json")
		}()
		go func(i int) {
			defer wg.Done()
			NewLogger(fmt.Sprintf("UTILS_CONCURRENT_%d", i))
		}(i)
	}
	wg.Wait()

	ConfigureLogLevel("error")
	for i := 0; i < 8; i++ {
		assert.Equal(t, logrus.ErrorLevel, NewLogger(fmt.Sprintf("UTILS_CONCURRENT_%d", i)).GetLevel())
	}
}
