package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// NewLinkCmd creates the link command.
func NewLinkCmd() *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "link <text>",
		Short: "Link an entity mention to the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			t, err := medical.ParseEntityType(entityType)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			p, err := cliCtx.Pipeline(ctx)
			if err != nil {
				return err
			}

			res, err := p.Processor.Linker().Link(ctx, strings.Join(args, " "), t)
			if err != nil {
				return err
			}
			return PrintResult(cmd, linkView(res))
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", string(medical.EntityMedication), "entity type (MEDICATION, CONDITION, SYMPTOM, ...)")
	return cmd
}

type linkView medical.LinkResult

func (v linkView) String() string {
	if v.Entry == nil {
		return fmt.Sprintf("%q: no match (%s)", v.InputText, v.EntityType)
	}
	return fmt.Sprintf("%q -> %s [%s, %s %.2f]", v.InputText, v.Normalized, v.Entry.Category, v.Method, v.Confidence)
}

func (v linkView) TableHeaders() []string {
	return []string{"INPUT", "NORMALIZED", "TYPE", "METHOD", "CONFIDENCE"}
}

func (v linkView) TableRows() [][]string {
	return [][]string{{
		v.InputText,
		v.Normalized,
		string(v.EntityType),
		string(v.Method),
		strconv.FormatFloat(v.Confidence, 'f', 2, 64),
	}}
}
