package cli

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/application/bootstrap"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/storage/minio"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/knowledge"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// NewKBCmd creates the kb command group.
func NewKBCmd() *cobra.Command {
	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect and distribute the knowledge base",
	}
	kbCmd.AddCommand(newKBListCmd(), newKBExportCmd(), newKBPublishCmd())
	return kbCmd
}

func newKBListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge base entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := loadEntries(cmd)
			if err != nil {
				return err
			}
			if category != "" {
				c, err := medical.ParseCategory(category)
				if err != nil {
					return err
				}
				entries = filterCategory(entries, c)
			}
			return PrintResult(cmd, entryList(entries))
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only entries of this category (medication, condition, symptom, facility)")
	return cmd
}

func newKBExportCmd() *cobra.Command {
	var out, version string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the knowledge base as a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := loadEntries(cmd)
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to create output file")
				}
				defer f.Close()
				w = f
			}
			return knowledge.EncodeEntries(w, version, entries)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&version, "kb-version", "", "version recorded in the document")
	return cmd
}

func newKBPublishCmd() *cobra.Command {
	var object, version string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the knowledge base to object storage",
		Long: "Upload the configured knowledge base to the MinIO bucket of the configuration,\n" +
			"where workers with knowledge.source=minio read it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if object == "" {
				object = cliCtx.Config.Knowledge.Object
			}
			if object == "" {
				return errors.InvalidInput("--object is required when knowledge.object is not configured")
			}
			entries, err := loadEntries(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			client, err := minio.NewMinIOClient(ctx, minio.FromConfig(cliCtx.Config.MinIO), cliCtx.Logger.Named("minio"))
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := minio.NewKnowledgeSource(client, object).Publish(ctx, version, entries)
			if err != nil {
				return err
			}
			cliCtx.Logger.Info("knowledge base published",
				logging.String("bucket", client.Bucket()),
				logging.String("object", res.ObjectKey),
				logging.Int("entries", len(entries)))
			PrintSuccess(cmd, "published "+client.Bucket()+"/"+res.ObjectKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "object key (default: knowledge.object)")
	cmd.Flags().StringVar(&version, "kb-version", "", "version recorded in the document and object metadata")
	return cmd
}

// loadEntries reads the configured knowledge source directly; no models are
// loaded.
func loadEntries(cmd *cobra.Command) ([]medical.KnowledgeBaseEntry, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()
	return loadFromSource(ctx, cliCtx)
}

func loadFromSource(ctx context.Context, cliCtx *CLIContext) ([]medical.KnowledgeBaseEntry, error) {
	if cliCtx.pipeline != nil {
		return cliCtx.pipeline.Processor.KnowledgeBase().Entries(), nil
	}
	src, client, err := bootstrap.KnowledgeSource(ctx, cliCtx.Config, cliCtx.Logger.Named("minio"))
	if err != nil {
		return nil, err
	}
	if client != nil {
		defer client.Close()
	}
	base, err := knowledge.LoadBase(ctx, src)
	if err != nil {
		return nil, err
	}
	return base.Entries(), nil
}

func filterCategory(entries []medical.KnowledgeBaseEntry, c medical.Category) []medical.KnowledgeBaseEntry {
	var out []medical.KnowledgeBaseEntry
	for _, e := range entries {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

type entryList []medical.KnowledgeBaseEntry

func (l entryList) String() string {
	var sb strings.Builder
	for i, e := range l {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(e.Category) + "\t" + e.CanonicalName)
		if len(e.Aliases) > 0 {
			sb.WriteString(" (" + strings.Join(e.Aliases, ", ") + ")")
		}
	}
	return sb.String()
}

func (l entryList) TableHeaders() []string {
	return []string{"CATEGORY", "NAME", "ALIASES", "CLASS"}
}

func (l entryList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{string(e.Category), e.CanonicalName, strings.Join(e.Aliases, ", "), e.Metadata["class"]})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}
