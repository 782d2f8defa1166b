package glog_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/gordian-engine/gwdog/internal/glog"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_json(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := glog.NewLogger(&buf, "JSON", "warn")
	require.NoError(t, err)

	log.Info("dropped")
	require.Zero(t, buf.Len())

	log.Warn("kept", "b", glog.Byte('k'), "raw", glog.Byte(0))

	var m map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "WARN", m["level"])
	require.Equal(t, "kept", m["msg"])
	require.Equal(t, "k", m["b"])
	require.Equal(t, "0x00", m["raw"])
}

func TestNewLogger_text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := glog.NewLogger(&buf, "", "debug")
	require.NoError(t, err)

	log.Debug("hello", "b", glog.Byte('V'))
	require.Contains(t, buf.String(), "level=DEBUG")
	require.Contains(t, buf.String(), "b=V")
}

func TestNewLogger_invalid(t *testing.T) {
	t.Parallel()

	_, err := glog.NewLogger(new(bytes.Buffer), "xml", "info")
	require.ErrorContains(t, err, "invalid log format")

	_, err = glog.NewLogger(new(bytes.Buffer), "text", "loud")
	require.ErrorContains(t, err, "invalid log level")
}
