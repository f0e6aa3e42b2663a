package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, "debug", "json")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("order_id", "ORD-1").Info("started tracking")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "started tracking", entry["message"])
	assert.Equal(t, "ORD-1", entry["order_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestUnknownLevelFallsBack(t *testing.T) {
	l := NewWithOutput(&bytes.Buffer{}, "loud", "text")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
