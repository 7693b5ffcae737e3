package common

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// TaskType identifies what a model is asked to do.
type TaskType string

const (
	TaskClassification      TaskType = "classification"
	TaskTokenClassification TaskType = "token_classification"
)

// BackendType identifies the inference backend.
type BackendType string

const (
	BackendLexicon BackendType = "lexicon"
	BackendHugot   BackendType = "hugot"
	BackendServing BackendType = "serving"
)

// ParseBackendType accepts the configuration spelling of a backend.
func ParseBackendType(s string) (BackendType, error) {
	switch b := BackendType(s); b {
	case BackendLexicon, BackendHugot, BackendServing:
		return b, nil
	default:
		return "", errors.InvalidInput(fmt.Sprintf("unknown model backend %q", s))
	}
}

// PredictRequest carries the input payload for model inference.
type PredictRequest struct {
	ModelName string            `json:"model_name"`
	Task      TaskType          `json:"task"`
	Texts     []string          `json:"texts"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the request is valid.
func (r *PredictRequest) Validate() error {
	if r == nil {
		return errors.InvalidInput("nil predict request")
	}
	if r.ModelName == "" {
		return errors.InvalidInput("model_name is required")
	}
	switch r.Task {
	case TaskClassification, TaskTokenClassification:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown task %q", r.Task))
	}
	if len(r.Texts) == 0 {
		return errors.InvalidInput("texts must not be empty")
	}
	return nil
}

// SpanPrediction is one labelled span produced by a token classifier.
// Offsets are byte offsets into the request text.
type SpanPrediction struct {
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
	Word  string  `json:"word,omitempty"`
}

// PredictResponse carries the outputs of one inference call. Scores holds
// one probability per text for classification; Spans holds one span list
// per text for token classification.
type PredictResponse struct {
	ModelName       string             `json:"model_name"`
	ModelVersion    string             `json:"model_version,omitempty"`
	Scores          []float64          `json:"scores,omitempty"`
	Spans           [][]SpanPrediction `json:"spans,omitempty"`
	InferenceTimeMs int64              `json:"inference_time_ms"`
}

// Validate checks that the response matches the request shape.
func (r *PredictResponse) Validate(req *PredictRequest) error {
	if r == nil {
		return errors.New(errors.ErrCodeExternalService, "nil predict response")
	}
	switch req.Task {
	case TaskClassification:
		if len(r.Scores) != len(req.Texts) {
			return errors.Newf(errors.ErrCodeExternalService,
				"expected %d scores, got %d", len(req.Texts), len(r.Scores))
		}
	case TaskTokenClassification:
		if len(r.Spans) != len(req.Texts) {
			return errors.Newf(errors.ErrCodeExternalService,
				"expected %d span lists, got %d", len(req.Texts), len(r.Spans))
		}
	}
	return nil
}

// EncodeStruct converts a JSON-serializable value into a protobuf Struct,
// the wire payload of the serving protocol.
func EncodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode payload")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "payload is not an object")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "build struct payload")
	}
	return s, nil
}

// DecodeStruct fills out from a protobuf Struct.
func DecodeStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return errors.New(errors.ErrCodeSerialization, "nil struct payload")
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "re-encode struct payload")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode struct payload")
	}
	return nil
}
