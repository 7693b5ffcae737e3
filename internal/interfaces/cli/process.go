package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/processing"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

type processOptions struct {
	id            string
	minConfidence float64
}

// NewProcessCmd creates the process command.
func NewProcessCmd() *cobra.Command {
	opts := &processOptions{}
	cmd := &cobra.Command{
		Use:   "process [text]",
		Short: "Process one message",
		Long:  "Process one message given as arguments, or read from stdin when no argument is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.id, "id", "", "message id (default: generated)")
	cmd.Flags().Float64Var(&opts.minConfidence, "min-confidence", -1, "minimum entity confidence (default: configured value)")
	return cmd
}

func runProcess(cmd *cobra.Command, args []string, opts *processOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read stdin")
		}
		text = strings.TrimRight(string(b), "\r\n")
	}

	reqOpts := []processing.RequestOption{processing.WithMessageID(opts.id)}
	if cmd.Flags().Changed("min-confidence") {
		if err := checkUnit("min-confidence", opts.minConfidence); err != nil {
			return err
		}
		reqOpts = append(reqOpts, processing.WithMinConfidence(opts.minConfidence))
	}

	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()
	p, err := cliCtx.Pipeline(ctx)
	if err != nil {
		return err
	}

	msg, err := p.Processor.Process(ctx, text, reqOpts...)
	if err != nil {
		return err
	}
	cliCtx.Logger.Debug("message processed",
		logging.String("id", msg.ID),
		logging.Duration("elapsed", msg.ProcessingTime))
	return PrintResult(cmd, messageView{msg})
}

func checkUnit(flag string, v float64) error {
	if v < 0 || v > 1 {
		return errors.InvalidInput(fmt.Sprintf("%s must be between 0.0 and 1.0, got %.2f", flag, v))
	}
	return nil
}

// messageView renders a processed message for text and table output.
type messageView struct {
	*medical.ProcessedMessage
}

func (v messageView) MarshalJSON() ([]byte, error) { return v.ProcessedMessage.MarshalJSON() }

func (v messageView) String() string {
	m := v.ProcessedMessage
	var sb strings.Builder
	fmt.Fprintf(&sb, "id:        %s\n", m.ID)
	fmt.Fprintf(&sb, "status:    %s\n", m.Status)
	fmt.Fprintf(&sb, "medical:   %t (%.2f)\n", m.IsMedical, m.MedicalConfidence)
	fmt.Fprintf(&sb, "quality:   %.2f (%s)\n", m.QualityScore, m.QualityBucket)
	if len(m.Entities) > 0 {
		sb.WriteString("entities:\n")
		for _, e := range m.Entities {
			fmt.Fprintf(&sb, "  - %s %q [%d,%d) %.2f", e.EntityType, e.Text, e.Start, e.End, e.Confidence)
			if e.Normalized != "" {
				fmt.Fprintf(&sb, " -> %s", e.Normalized)
			}
			sb.WriteString("\n")
		}
	}
	for _, d := range m.Diagnostics {
		fmt.Fprintf(&sb, "diagnostic: %s\n", d)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (v messageView) TableHeaders() []string {
	return []string{"TYPE", "TEXT", "START", "END", "CONFIDENCE", "NORMALIZED"}
}

func (v messageView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Entities))
	for _, e := range v.Entities {
		rows = append(rows, []string{
			string(e.EntityType),
			e.Text,
			strconv.Itoa(e.Start),
			strconv.Itoa(e.End),
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
			e.Normalized,
		})
	}
	return rows
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read input")
	}
	return out, nil
}
