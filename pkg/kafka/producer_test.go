package kafka

import (
	"encoding/json"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("inventory_data", "dataset.ingested", map[string]any{"version": 2})
	require.NoError(t, err)

	assert.Equal(t, "inventory_data", string(msg.Key))
	assert.False(t, msg.Time.IsZero())

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, float64(2), body["version"])

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "dataset.ingested", headers["event_type"])
	assert.Equal(t, "application/json", headers["content_type"])
}

func TestNewMessageRejectsUnencodable(t *testing.T) {
	_, err := NewMessage("k", "dataset.ingested", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, CompressionFromString("GZIP"))
	assert.Equal(t, kafkago.Zstd, CompressionFromString("zstd"))
	assert.Equal(t, kafkago.Lz4, CompressionFromString("lz4"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("unknown"))
}
