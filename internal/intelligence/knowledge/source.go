package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// Source supplies knowledge base entries.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]medical.KnowledgeBaseEntry, error)
}

// SeedSource serves the built-in catalog.
type SeedSource struct{}

func (SeedSource) Name() string { return "seed" }

func (SeedSource) Load(context.Context) ([]medical.KnowledgeBaseEntry, error) {
	return Seed(), nil
}

// FileSource reads a JSON snapshot from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Load(ctx context.Context) ([]medical.KnowledgeBaseEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKBLoadFailed, "open knowledge base file").WithDetail(s.Path)
	}
	defer f.Close()
	return DecodeEntries(f)
}

// snapshot is the on-disk layout. A bare JSON array of entries is accepted
// as well.
type snapshot struct {
	Version string                       `json:"version,omitempty"`
	Entries []medical.KnowledgeBaseEntry `json:"entries"`
}

// DecodeEntries parses a knowledge base snapshot.
func DecodeEntries(r io.Reader) ([]medical.KnowledgeBaseEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKBLoadFailed, "read knowledge base snapshot")
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var entries []medical.KnowledgeBaseEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeKBLoadFailed, "decode knowledge base snapshot")
		}
		return entries, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKBLoadFailed, "decode knowledge base snapshot")
	}
	return snap.Entries, nil
}

// EncodeEntries writes entries in the snapshot layout read by DecodeEntries.
func EncodeEntries(w io.Writer, version string, entries []medical.KnowledgeBaseEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot{Version: version, Entries: entries}); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode knowledge base snapshot")
	}
	return nil
}

// LoadBase reads src and builds a Base.
func LoadBase(ctx context.Context, src Source) (*Base, error) {
	entries, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKBLoadFailed, "load knowledge base").WithDetail(src.Name())
	}
	b, err := NewBase(entries)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "build knowledge base").WithDetail(src.Name())
	}
	return b, nil
}
