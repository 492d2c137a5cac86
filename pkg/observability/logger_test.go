package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := SetupLogger(LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	log.WithField("token", "n1").Info("record registered")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "record registered", entry["msg"])
	assert.Equal(t, "n1", entry["token"])
	assert.Equal(t, "info", entry["level"])
}

func TestSetupLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	log, err := SetupLogger(LogConfig{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}

func TestSetupLoggerRejectsBadConfig(t *testing.T) {
	_, err := SetupLogger(LogConfig{Level: "loud"}, nil)
	assert.Error(t, err)

	_, err = SetupLogger(LogConfig{Format: "xml"}, nil)
	assert.Error(t, err)
}
