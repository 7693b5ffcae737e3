package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

type batchOptions struct {
	file          string
	concurrency   int
	timeout       time.Duration
	minConfidence float64
}

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process a file with one message per line",
		Long:  "Process every non-blank line of --file (or stdin) as a message and print the batch statistics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "input file, one message per line (default: stdin)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "maximum messages in flight (default: configured value)")
	cmd.Flags().DurationVar(&opts.timeout, "batch-timeout", 0, "batch deadline (default: configured value)")
	cmd.Flags().Float64Var(&opts.minConfidence, "min-confidence", -1, "minimum entity confidence (default: configured value)")
	return cmd
}

func runBatch(cmd *cobra.Command, opts *batchOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if opts.concurrency < 0 {
		return errors.InvalidInput(fmt.Sprintf("concurrency must not be negative, got %d", opts.concurrency))
	}

	var in io.Reader = cmd.InOrStdin()
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to open input file")
		}
		defer f.Close()
		in = f
	}
	texts, err := readLines(in)
	if err != nil {
		return err
	}

	batchOpts := []processing.BatchOption{
		processing.WithConcurrency(opts.concurrency),
		processing.WithBatchTimeout(opts.timeout),
	}
	if cmd.Flags().Changed("min-confidence") {
		if err := checkUnit("min-confidence", opts.minConfidence); err != nil {
			return err
		}
		batchOpts = append(batchOpts, processing.WithRequestOptions(processing.WithMinConfidence(opts.minConfidence)))
	}

	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()
	p, err := cliCtx.Pipeline(ctx)
	if err != nil {
		return err
	}

	out, err := p.Processor.ProcessBatch(ctx, texts, batchOpts...)
	if err != nil {
		return err
	}
	return PrintResult(cmd, batchView{out})
}

type batchView struct {
	*processing.BatchOutcome
}

func (v batchView) String() string {
	s := v.Stats
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch:      %s\n", v.ID)
	fmt.Fprintf(&sb, "messages:   %d\n", s.TotalMessages)
	fmt.Fprintf(&sb, "processed:  %d\n", s.Processed)
	fmt.Fprintf(&sb, "medical:    %d (%.1f%%)\n", s.MedicalMessages, s.MedicalPercentage)
	fmt.Fprintf(&sb, "timed out:  %d\n", s.TimedOut)
	fmt.Fprintf(&sb, "avg quality: %.2f\n", s.AvgQuality)
	fmt.Fprintf(&sb, "elapsed:    %s", v.Duration.Round(time.Millisecond))
	return sb.String()
}

func (v batchView) TableHeaders() []string {
	return []string{"#", "STATUS", "MEDICAL", "ENTITIES", "QUALITY", "TEXT"}
}

func (v batchView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Messages))
	for i, m := range v.Messages {
		if m == nil {
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(m.Status),
			strconv.FormatBool(m.IsMedical),
			strconv.Itoa(len(m.Entities)),
			strconv.FormatFloat(m.QualityScore, 'f', 2, 64),
			truncate(m.OriginalText, 48),
		})
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
