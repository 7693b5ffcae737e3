package minio

import (
	"bytes"
	"context"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// KnowledgeSource reads a knowledge base snapshot object. It implements
// knowledge.Source.
type KnowledgeSource struct {
	repo   ObjectRepository
	bucket string
	object string
}

// NewKnowledgeSource serves the snapshot stored under object.
func NewKnowledgeSource(client *MinIOClient, object string) *KnowledgeSource {
	return &KnowledgeSource{repo: NewMinIORepository(client, client.logger), bucket: client.Bucket(), object: object}
}

func (s *KnowledgeSource) Name() string { return "minio:" + s.bucket + "/" + s.object }

func (s *KnowledgeSource) Load(ctx context.Context) ([]medical.KnowledgeBaseEntry, error) {
	res, err := s.repo.Download(ctx, s.object)
	if err != nil {
		return nil, err
	}
	return knowledge.DecodeEntries(bytes.NewReader(res.Data))
}

// Publish uploads entries as a snapshot in the layout Load reads.
func (s *KnowledgeSource) Publish(ctx context.Context, version string, entries []medical.KnowledgeBaseEntry) (*UploadResult, error) {
	if len(entries) == 0 {
		return nil, errors.New(errors.ErrCodeKBEmpty, "refusing to publish an empty knowledge base")
	}
	var buf bytes.Buffer
	if err := knowledge.EncodeEntries(&buf, version, entries); err != nil {
		return nil, err
	}
	return s.repo.Upload(ctx, &UploadRequest{
		ObjectKey:   s.object,
		Data:        buf.Bytes(),
		ContentType: "application/json",
		Metadata:    map[string]string{"kb-version": version},
	})
}

var _ knowledge.Source = (*KnowledgeSource)(nil)
