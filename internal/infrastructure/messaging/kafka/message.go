package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Message is a record read from a topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMessage is a record to write.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one consumed record.
type MessageHandler func(ctx context.Context, msg *Message) error

// BatchItemError reports a failed record of a batch publish. Index -1 means
// the whole batch failed.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarises a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// ---------------------------------------------------------------------------
// Permanent failures
// ---------------------------------------------------------------------------

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the consumer dead-letters the
// record immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// RawMessage is an inbound message awaiting processing. On the wire it is
// either a JSON object or the bare UTF-8 text.
type RawMessage struct {
	ID            string   `json:"id,omitempty"`
	Text          string   `json:"text"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// DecodeRaw parses a record from the raw topic. Records that can never be
// decoded come back as Permanent errors.
func DecodeRaw(m *Message) (RawMessage, error) {
	value := bytes.TrimSpace(m.Value)
	if len(value) == 0 {
		return RawMessage{}, Permanent(errors.New(errors.ErrCodeValidation, "empty message value"))
	}
	var raw RawMessage
	if value[0] == '{' {
		if err := json.Unmarshal(value, &raw); err != nil {
			return RawMessage{}, Permanent(errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode raw message"))
		}
	} else {
		if !utf8.Valid(m.Value) {
			return RawMessage{}, Permanent(errors.New(errors.ErrCodeSerialization, "raw message is neither JSON nor UTF-8 text"))
		}
		raw.Text = string(m.Value)
	}
	if raw.ID == "" && len(m.Key) > 0 {
		raw.ID = string(m.Key)
	}
	return raw, nil
}

// EncodeRaw builds a record for the raw topic.
func EncodeRaw(topic string, raw RawMessage) (*ProducerMessage, error) {
	val, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode raw message")
	}
	return &ProducerMessage{Topic: topic, Key: []byte(raw.ID), Value: val}, nil
}

// EncodeProcessed builds a record for the processed topic keyed by message id.
func EncodeProcessed(topic string, msg *medical.ProcessedMessage) (*ProducerMessage, error) {
	val, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode processed message")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(msg.ID),
		Value: val,
		Headers: map[string]string{
			"status":         string(msg.Status),
			"is_medical":     strconv.FormatBool(msg.IsMedical),
			"quality_bucket": string(msg.QualityBucket),
		},
		Timestamp: msg.ProcessedAt,
	}, nil
}
