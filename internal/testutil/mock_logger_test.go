package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)
	v, ok := messages[0].Field("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
	assert.Equal(t, 1, logger.Count("error"))
}

func TestMockLogger_ChildrenShareRecord(t *testing.T) {
	logger := testutil.NewMockLogger()
	var l logging.Logger = logger

	child := l.Named("worker").With(logging.String("topic", "raw")).Named("kafka")
	child.Warn("retrying", logging.Int("attempt", 2))

	messages := logger.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "worker.kafka", messages[0].Logger)
	topic, _ := messages[0].Field("topic")
	attempt, _ := messages[0].Field("attempt")
	assert.Equal(t, "raw", topic)
	assert.Equal(t, 2, attempt)
}
