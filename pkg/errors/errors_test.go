package errors_test

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"invalid input", errors.ErrCodeInvalidInput, "text must not be empty"},
		{"model unavailable", errors.ErrCodeModelUnavailable, "ner model missing"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.Contains(t, ae.Stack, "errors_test.go")
		})
	}
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInvalidInput, "bad text").WithDetail("empty")
	assert.Equal(t, "[NLP_004] bad text: empty", ae.Error())

	wrapped := errors.Wrap(fmt.Errorf("dial tcp: refused"), errors.ErrCodeModelUnavailable, "serving down")
	assert.Equal(t, "[NLP_001] serving down: dial tcp: refused", wrapped.Error())
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.Wrap(nil, errors.CodeInternal, "should not matter"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("connection reset")
	ae := errors.Wrap(root, errors.ErrCodeExternalService, "serving call failed")

	require.NotNil(t, ae)
	assert.True(t, stderrors.Is(ae, root))
	assert.Equal(t, root, stderrors.Unwrap(ae))
}

func TestWrap_UnknownCodePreservesOriginal(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeLinkingFailure, "kb lookup failed")
	outer := errors.Wrap(inner, errors.CodeUnknown, "adding context")

	assert.Equal(t, errors.ErrCodeLinkingFailure, outer.Code)
}

func TestIsCode_TraversesChain(t *testing.T) {
	t.Parallel()

	inner := errors.ModelUnavailable("ner", stderrors.New("file not found"))
	mid := errors.Wrap(inner, errors.ErrCodeExtractionFailure, "strategy failed")
	outer := fmt.Errorf("processing: %w", mid)

	assert.True(t, errors.IsCode(outer, errors.ErrCodeExtractionFailure))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeModelUnavailable))
	assert.True(t, errors.IsModelUnavailable(outer))
	assert.False(t, errors.IsCode(outer, errors.ErrCodeInvalidInput))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInvalidInput))
	assert.False(t, errors.IsCode(stderrors.New("plain"), errors.CodeInternal))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(errors.InvalidInput("x")))
}

func TestWithDetail_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := errors.NotFound("entry not found")
	detailed := base.WithDetail("canonical=Amoxicillin")

	assert.Empty(t, base.Detail)
	assert.Equal(t, "canonical=Amoxicillin", detailed.Detail)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("x"))
	assert.Nil(t, nilErr.WithCause(stderrors.New("x")))
}

func TestTaxonomyFactories(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("boom")
	cases := []struct {
		err  *errors.AppError
		code errors.ErrorCode
	}{
		{errors.ModelUnavailable("classifier", cause), errors.ErrCodeModelUnavailable},
		{errors.ExtractionFailure("model", cause), errors.ErrCodeExtractionFailure},
		{errors.LinkingFailure("amoxil", cause), errors.ErrCodeLinkingFailure},
		{errors.InvalidInput("empty"), errors.ErrCodeInvalidInput},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.True(t, strings.HasPrefix(tc.err.Error(), "["+tc.code.String()+"]"))
	}
	assert.True(t, errors.IsInvalidInput(errors.InvalidInput("x")))
	assert.True(t, errors.IsNotFound(errors.NotFound("x")))
}
