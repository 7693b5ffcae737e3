// internal/application/processing/sink.go

package processing

import (
	"context"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// ResultSink receives processed messages for persistence or publication.
// The pipeline itself never writes; callers hand results to a sink.
type ResultSink interface {
	Save(ctx context.Context, msg *medical.ProcessedMessage) error
	SaveBatch(ctx context.Context, msgs []*medical.ProcessedMessage) error
}

// MultiSink fans results out to several sinks and returns the first error.
type MultiSink []ResultSink

func (m MultiSink) Save(ctx context.Context, msg *medical.ProcessedMessage) error {
	var first error
	for _, s := range m {
		if err := s.Save(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) SaveBatch(ctx context.Context, msgs []*medical.ProcessedMessage) error {
	var first error
	for _, s := range m {
		if err := s.SaveBatch(ctx, msgs); err != nil && first == nil {
			first = err
		}
	}
	return first
}
