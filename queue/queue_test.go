package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDestinationQueue_InvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		channelID string
		metaID    int
	}{
		{name: "InvalidURL", url: "invalid://url", channelID: "chan-1", metaID: 1},
		{name: "EmptyURL", url: "", channelID: "chan-1", metaID: 1},
		{name: "NonExistentServer", url: "amqp://nonexistent:5672", channelID: "chan-1", metaID: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewDestinationQueue(tt.url, tt.channelID, tt.metaID)
			assert.Error(t, err)
			assert.Nil(t, q)
		})
	}
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "destination.chan-1.3", QueueName("chan-1", 3))
}

func TestDestinationQueue_Close_NilSafety(t *testing.T) {
	q := &DestinationQueue{}
	assert.NotPanics(t, func() {
		q.Close()
	})
}

func TestDestinationJob_JSONRoundTrip(t *testing.T) {
	job := DestinationJob{
		ChannelID:     "chan-1",
		MessageID:     42,
		MetaDataID:    1,
		ConnectorName: "lab-feed",
		Attempt:       2,
		QueuedAt:      time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var decoded DestinationJob
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, job.ChannelID, decoded.ChannelID)
	assert.Equal(t, job.MessageID, decoded.MessageID)
	assert.Equal(t, job.MetaDataID, decoded.MetaDataID)
	assert.Equal(t, job.ConnectorName, decoded.ConnectorName)
	assert.Equal(t, job.Attempt, decoded.Attempt)
	assert.True(t, job.QueuedAt.Equal(decoded.QueuedAt))
}

func BenchmarkDestinationJobMarshaling(b *testing.B) {
	job := DestinationJob{ChannelID: "bench", MessageID: 1, MetaDataID: 1, ConnectorName: "dest", Attempt: 1}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(job)
	}
}
