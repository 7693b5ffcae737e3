package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/postgres"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// EntityCount is one row of a mention ranking.
type EntityCount struct {
	Name     string `json:"name"`
	Mentions int64  `json:"mentions"`
}

// MessageRepository stores processed messages and their entities.
type MessageRepository struct {
	conn *postgres.Connection
	log  logging.Logger
}

func NewMessageRepository(conn *postgres.Connection, log logging.Logger) *MessageRepository {
	return &MessageRepository{conn: conn, log: logging.OrNop(log)}
}

// Save upserts one message. Its entities replace any stored earlier.
func (r *MessageRepository) Save(ctx context.Context, msg *medical.ProcessedMessage) error {
	return r.SaveBatch(ctx, []*medical.ProcessedMessage{msg})
}

// SaveBatch upserts messages in a single transaction.
func (r *MessageRepository) SaveBatch(ctx context.Context, msgs []*medical.ProcessedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			return errors.InvalidInput("processed message without id")
		}
	}

	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	for _, m := range msgs {
		if err := saveMessage(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit processed messages")
	}
	r.log.Debug("processed messages stored", logging.Int("count", len(msgs)))
	return nil
}

const upsertMessage = `
	INSERT INTO processed_messages (
		id, original_text, normalized_text, is_medical, medical_confidence, reasoning,
		quality_score, quality_bucket, status, processing_time_ms, linked_entities, diagnostics, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		normalized_text = EXCLUDED.normalized_text,
		is_medical = EXCLUDED.is_medical,
		medical_confidence = EXCLUDED.medical_confidence,
		reasoning = EXCLUDED.reasoning,
		quality_score = EXCLUDED.quality_score,
		quality_bucket = EXCLUDED.quality_bucket,
		status = EXCLUDED.status,
		processing_time_ms = EXCLUDED.processing_time_ms,
		linked_entities = EXCLUDED.linked_entities,
		diagnostics = EXCLUDED.diagnostics,
		processed_at = EXCLUDED.processed_at
`

const insertEntity = `
	INSERT INTO message_entities (
		message_id, position, entity_type, text, start_offset, end_offset, confidence, normalized
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func saveMessage(ctx context.Context, q queryExecutor, m *medical.ProcessedMessage) error {
	links, err := json.Marshal(orEmpty(m.Links))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode linked entities")
	}
	diags, err := json.Marshal(orEmpty(m.Diagnostics))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode diagnostics")
	}

	_, err = q.ExecContext(ctx, upsertMessage,
		m.ID, m.OriginalText, m.NormalizedText, m.IsMedical, m.MedicalConfidence, m.Reasoning,
		m.QualityScore, string(m.QualityBucket), string(m.Status),
		float64(m.ProcessingTime.Microseconds())/1000.0, links, diags, m.ProcessedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to store processed message")
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM message_entities WHERE message_id = $1`, m.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear message entities")
	}
	for i, e := range m.Entities {
		_, err := q.ExecContext(ctx, insertEntity,
			m.ID, i, string(e.EntityType), e.Text, e.Start, e.End, e.Confidence, e.Normalized)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to store message entity")
		}
	}
	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// GetByID loads a message with its entities in original order.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*medical.ProcessedMessage, error) {
	db := r.conn.DB()
	row := db.QueryRowContext(ctx, `
		SELECT id, original_text, normalized_text, is_medical, medical_confidence, reasoning,
		       quality_score, quality_bucket, status, processing_time_ms, linked_entities, diagnostics, processed_at
		FROM processed_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("processed message " + id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT entity_type, text, start_offset, end_offset, confidence, normalized
		FROM message_entities WHERE message_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load message entities")
	}
	defer rows.Close()

	m.Entities = []medical.MedicalEntity{}
	for rows.Next() {
		var e medical.MedicalEntity
		var typ string
		if err := rows.Scan(&typ, &e.Text, &e.Start, &e.End, &e.Confidence, &e.Normalized); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan message entity")
		}
		e.EntityType = medical.EntityType(typ)
		m.Entities = append(m.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read message entities")
	}
	return m, nil
}

func scanMessage(s scanner) (*medical.ProcessedMessage, error) {
	var (
		m             medical.ProcessedMessage
		bucket, state string
		elapsedMs     float64
		links, diags  []byte
	)
	err := s.Scan(&m.ID, &m.OriginalText, &m.NormalizedText, &m.IsMedical, &m.MedicalConfidence, &m.Reasoning,
		&m.QualityScore, &bucket, &state, &elapsedMs, &links, &diags, &m.ProcessedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan processed message")
	}
	m.QualityBucket = medical.QualityBucket(bucket)
	m.Status = medical.Status(state)
	m.ProcessingTime = time.Duration(elapsedMs * float64(time.Millisecond))
	m.ProcessedAt = m.ProcessedAt.UTC()
	if len(links) > 0 {
		if err := json.Unmarshal(links, &m.Links); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode linked entities")
		}
	}
	if len(diags) > 0 {
		if err := json.Unmarshal(diags, &m.Diagnostics); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode diagnostics")
		}
	}
	if len(m.Links) == 0 {
		m.Links = nil
	}
	if len(m.Diagnostics) == 0 {
		m.Diagnostics = nil
	}
	return &m, nil
}

// TopEntities ranks the most mentioned entities of one type, by linked name
// when available.
func (r *MessageRepository) TopEntities(ctx context.Context, t medical.EntityType, limit int) ([]EntityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.conn.DB().QueryContext(ctx, `
		SELECT COALESCE(NULLIF(normalized, ''), text) AS name, COUNT(*) AS mentions
		FROM message_entities
		WHERE entity_type = $1
		GROUP BY name
		ORDER BY mentions DESC, name
		LIMIT $2`, string(t), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to rank entities")
	}
	defer rows.Close()

	out := []EntityCount{}
	for rows.Next() {
		var c EntityCount
		if err := rows.Scan(&c.Name, &c.Mentions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan entity ranking")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
