package cli

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/bootstrap"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/config"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "medextract", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"process", "batch", "link", "kb", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	for _, flag := range []string{"config", "log-level", "output", "verbose", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
	assert.Equal(t, "o", cmd.PersistentFlags().Lookup("output").Shorthand)
	assert.Equal(t, OutputText, cmd.PersistentFlags().Lookup("output").DefValue)
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "", "version", "-o", "yaml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, err := run(t, "", "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version", "-o", "json")
	require.NoError(t, err)

	var info buildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)

	out, err = run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "medextract "+Version))
}

func TestProcessCmd_JSON(t *testing.T) {
	out, err := run(t, "", "process", "-o", "json", "--id", "msg-1", "Amoxicillin", "500mg", "for", "infection")
	require.NoError(t, err)

	var msg medical.ProcessedMessage
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "Amoxicillin 500mg for infection", msg.OriginalText)
	assert.True(t, msg.IsMedical)
	assert.NotEmpty(t, msg.Medications())
}

func TestProcessCmd_Stdin(t *testing.T) {
	out, err := run(t, "Weather is sunny\n", "process")
	require.NoError(t, err)
	assert.Contains(t, out, "medical:   false")
}

func TestProcessCmd_Table(t *testing.T) {
	out, err := run(t, "", "process", "-o", "table", "Amoxicillin 500mg for infection")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "MEDICATION")
	assert.Contains(t, out, "DOSAGE")
}

func TestProcessCmd_MinConfidenceOutOfRange(t *testing.T) {
	_, err := run(t, "", "process", "--min-confidence", "1.5", "fever")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestBatchCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	require.NoError(t, os.WriteFile(path, []byte("Amoxicillin 500mg for infection\n\nWeather is sunny\n"), 0o600))

	out, err := run(t, "", "batch", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "messages:   2")
	assert.Contains(t, out, "medical:    1 (50.0%)")

	out, err = run(t, "", "batch", "--file", path, "-o", "json", "--concurrency", "1")
	require.NoError(t, err)
	var outcome struct {
		Messages []medical.ProcessedMessage `json:"messages"`
		Stats    medical.BatchStats         `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	require.Len(t, outcome.Messages, 2)
	assert.Equal(t, "Weather is sunny", outcome.Messages[1].OriginalText)
	assert.Equal(t, 1, outcome.Stats.MedicalMessages)
}

func TestBatchCmd_Stdin(t *testing.T) {
	out, err := run(t, "fever and cough\npanadol 500mg\n", "batch", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "fever and cough")
}

func TestBatchCmd_MissingFile(t *testing.T) {
	_, err := run(t, "", "batch", "--file", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestLinkCmd(t *testing.T) {
	out, err := run(t, "", "link", "-o", "json", "AMOXIL")
	require.NoError(t, err)

	var res medical.LinkResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Amoxicillin", res.Normalized)
	assert.Equal(t, medical.LinkExact, res.Method)

	out, err = run(t, "", "link", "zzzzqqq")
	require.NoError(t, err)
	assert.Contains(t, out, "no match")
}

func TestLinkCmd_UnknownType(t *testing.T) {
	_, err := run(t, "", "link", "--type", "organ", "heart")
	assert.Error(t, err)
}

func TestKBList(t *testing.T) {
	out, err := run(t, "", "kb", "list", "--category", "medication", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Amoxicillin")
	assert.NotContains(t, out, "Pharmacy")

	_, err = run(t, "", "kb", "list", "--category", "organ")
	assert.Error(t, err)
}

func TestKBExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	_, err := run(t, "", "kb", "export", "--out", path, "--kb-version", "2024.1")
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, err := knowledge.DecodeEntries(f)
	require.NoError(t, err)
	assert.Len(t, entries, len(knowledge.Seed()))
}

func TestKBPublish_RequiresObject(t *testing.T) {
	_, err := run(t, "", "kb", "publish")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestPipelineBuilderError(t *testing.T) {
	boom := errors.ModelUnavailable("relevance", stderrors.New("down"))
	cmd := NewRootCommand(WithPipelineBuilder(func(context.Context, *config.Config, logging.Logger) (*bootstrap.Pipeline, error) {
		return nil, boom
	}))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"process", "fever"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsModelUnavailable(err))
}

func TestFormatTable(t *testing.T) {
	got := FormatTable([]string{"A", "LONG"}, [][]string{{"x", "1"}, {"yyy"}})
	want := "A    LONG\n" +
		"---  ----\n" +
		"x    1   \n" +
		"yyy      \n"
	assert.Equal(t, want, got)
	assert.Empty(t, FormatTable(nil, nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
