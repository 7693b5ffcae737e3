package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
)

type mockKafkaConn struct {
	createFunc func(topics ...kafka.TopicConfig) error
	readFunc   func(topics ...string) ([]kafka.Partition, error)
	created    []kafka.TopicConfig
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.created = append(m.created, topics...)
	if m.createFunc != nil {
		return m.createFunc(topics...)
	}
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if m.readFunc != nil {
		return m.readFunc(topics...)
	}
	return nil, nil
}

func (m *mockKafkaConn) Close() error { return nil }

func newTestTopicManager(conn ConnInterface) *TopicManager {
	return &TopicManager{conn: conn, logger: logging.NewNopLogger()}
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics("", "custom.processed", "")
	require.Len(t, topics, 3)
	assert.Equal(t, TopicRawMessages, topics[0].Name)
	assert.Equal(t, "custom.processed", topics[1].Name)
	assert.Equal(t, TopicDeadLetter, topics[2].Name)
	for _, tc := range topics {
		assert.Equal(t, 1, tc.ReplicationFactor)
	}
}

func TestCreateTopic_Validation(t *testing.T) {
	m := newTestTopicManager(&mockKafkaConn{})
	ctx := context.Background()

	assert.Error(t, m.CreateTopic(ctx, TopicConfig{NumPartitions: 1, ReplicationFactor: 1}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "t", ReplicationFactor: 1}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "t", NumPartitions: 1}))
}

func TestCreateTopic_ConfigEntries(t *testing.T) {
	conn := &mockKafkaConn{}
	m := newTestTopicManager(conn)

	err := m.CreateTopic(context.Background(), TopicConfig{
		Name: "t", NumPartitions: 3, ReplicationFactor: 1,
		RetentionMs: 1000, CleanupPolicy: "compact",
	})
	require.NoError(t, err)
	require.Len(t, conn.created, 1)
	entries := map[string]string{}
	for _, e := range conn.created[0].ConfigEntries {
		entries[e.ConfigName] = e.ConfigValue
	}
	assert.Equal(t, "1000", entries["retention.ms"])
	assert.Equal(t, "compact", entries["cleanup.policy"])
}

func TestCreateTopic_AlreadyExists(t *testing.T) {
	conn := &mockKafkaConn{
		createFunc: func(...kafka.TopicConfig) error { return stderrors.New("topic exists") },
		readFunc: func(...string) ([]kafka.Partition, error) {
			return []kafka.Partition{{Topic: "t"}}, nil
		},
	}
	m := newTestTopicManager(conn)
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}))
}

func TestCreateTopic_Failure(t *testing.T) {
	conn := &mockKafkaConn{createFunc: func(...kafka.TopicConfig) error { return stderrors.New("denied") }}
	m := newTestTopicManager(conn)
	assert.Error(t, m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}))
}

func TestEnsureTopics(t *testing.T) {
	conn := &mockKafkaConn{}
	m := newTestTopicManager(conn)

	require.NoError(t, m.EnsureTopics(context.Background(), DefaultTopics("", "", "")))
	assert.Len(t, conn.created, 3)
}

func TestNewTopicManager_NoBrokers(t *testing.T) {
	_, err := NewTopicManager(nil, nil)
	assert.Error(t, err)
}
