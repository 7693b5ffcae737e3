package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

// ObjectRepository stores objects in the client's bucket.
type ObjectRepository interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Download(ctx context.Context, objectKey string) (*DownloadResult, error)
	Delete(ctx context.Context, objectKey string) error
	Exists(ctx context.Context, objectKey string) (bool, error)
	List(ctx context.Context, prefix string, maxKeys int) ([]*ObjectMetadata, error)
}

type UploadRequest struct {
	ObjectKey   string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type UploadResult struct {
	ObjectKey  string
	ETag       string
	Size       int64
	VersionID  string
	UploadedAt time.Time
}

type DownloadResult struct {
	Data []byte
	Size int64
}

type ObjectMetadata struct {
	ObjectKey    string
	Size         int64
	ETag         string
	LastModified time.Time
}

type minioRepository struct {
	client *MinIOClient
	logger logging.Logger
}

// NewMinIORepository creates an ObjectRepository over client.
func NewMinIORepository(client *MinIOClient, log logging.Logger) ObjectRepository {
	return &minioRepository{client: client, logger: logging.OrNop(log)}
}

func (r *minioRepository) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req == nil || req.ObjectKey == "" {
		return nil, ErrInvalidRequest
	}
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	if req.ContentType == "" && len(req.Data) > 0 {
		req.ContentType = http.DetectContentType(req.Data[:min(512, len(req.Data))])
	}

	info, err := api.PutObject(ctx, r.client.Bucket(), req.ObjectKey, bytes.NewReader(req.Data), int64(len(req.Data)),
		minio.PutObjectOptions{ContentType: req.ContentType, UserMetadata: req.Metadata})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageFailure, "upload failed")
	}
	r.logger.Debug("Object uploaded", logging.String("key", req.ObjectKey), logging.Int64("size", info.Size))
	return &UploadResult{
		ObjectKey:  info.Key,
		ETag:       info.ETag,
		Size:       info.Size,
		VersionID:  info.VersionID,
		UploadedAt: time.Now(),
	}, nil
}

func (r *minioRepository) Download(ctx context.Context, objectKey string) (*DownloadResult, error) {
	if objectKey == "" {
		return nil, ErrInvalidRequest
	}
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	obj, err := api.GetObject(ctx, r.client.Bucket(), objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapNotFound(err, "download failed")
	}
	defer obj.Close()

	// The SDK defers request errors, including NoSuchKey, to the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapNotFound(err, "download failed")
	}
	return &DownloadResult{Data: data, Size: int64(len(data))}, nil
}

func (r *minioRepository) Delete(ctx context.Context, objectKey string) error {
	api, err := r.client.api()
	if err != nil {
		return err
	}
	if err := api.RemoveObject(ctx, r.client.Bucket(), objectKey, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailure, "delete failed")
	}
	return nil
}

func (r *minioRepository) Exists(ctx context.Context, objectKey string) (bool, error) {
	api, err := r.client.api()
	if err != nil {
		return false, err
	}
	_, err = api.StatObject(ctx, r.client.Bucket(), objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageFailure, "stat failed")
	}
	return true, nil
}

func (r *minioRepository) List(ctx context.Context, prefix string, maxKeys int) ([]*ObjectMetadata, error) {
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []*ObjectMetadata
	for obj := range api.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageFailure, "list failed")
		}
		out = append(out, &ObjectMetadata{ObjectKey: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
		if len(out) >= maxKeys {
			break
		}
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func mapNotFound(err error, msg string) error {
	if isNoSuchKey(err) {
		return ErrObjectNotFound
	}
	return errors.Wrap(err, errors.ErrCodeStorageFailure, msg)
}
