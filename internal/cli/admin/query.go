package admin

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/service"
)

type queryOptions struct {
	codebase   string
	format     string
	maxResults int
	maxFiles   int
	maxLines   int
	threshold  float64
	languages  []string
	fileTypes  []string
	textOnly   bool
	expand     bool
}

// QueryCmd returns the query command
func QueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search a codebase and print the assembled context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			query := strings.Join(args, " ")

			format := strings.ToLower(opts.format)
			if format != "markdown" && format != "json" {
				return fmt.Errorf("invalid format %q (expected markdown or json)", opts.format)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := resolveCodebase(ctx, a.codebases, opts.codebase)
			if err != nil {
				return err
			}

			out, err := a.retrieval.Search(ctx, query, opts.searchContext(c.ID))
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			ac, err := a.assembler.Assemble(ctx, out.Results, c.ID, service.AssembleOptions{
				Query:          query,
				MaxFiles:       opts.maxFiles,
				IncludeContent: true,
			})
			if err != nil {
				return fmt.Errorf("failed to assemble context: %w", err)
			}
			ac.Errors = append(out.Errors, ac.Errors...)

			return writeContext(cmd.OutOrStdout(), format, ac, opts.maxLines)
		},
	}

	cmd.Flags().StringVarP(&opts.codebase, "codebase", "c", "", "Codebase ID or name (required)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "markdown", "Output format (markdown or json)")
	cmd.Flags().IntVarP(&opts.maxResults, "max-results", "n", 0, "Maximum search results (default 10)")
	cmd.Flags().IntVar(&opts.maxFiles, "max-files", 0, "Maximum files in the context (default 10)")
	cmd.Flags().IntVar(&opts.maxLines, "max-lines", 0, "Trim the context to this many lines")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum relevance for the primary tier (default 0.3)")
	cmd.Flags().StringSliceVar(&opts.languages, "languages", nil, "Only search these languages")
	cmd.Flags().StringSliceVar(&opts.fileTypes, "file-types", nil, "Only search these file extensions")
	cmd.Flags().BoolVar(&opts.textOnly, "text-only", false, "Use full-text matching instead of embeddings")
	cmd.Flags().BoolVar(&opts.expand, "expand", false, "Add chunks adjacent to each hit")
	cmd.MarkFlagRequired("codebase")

	return cmd
}

func (o queryOptions) searchContext(scopeID string) service.SearchContext {
	return service.SearchContext{
		ScopeID:            scopeID,
		Languages:          o.languages,
		FileTypes:          o.fileTypes,
		MaxResults:         o.maxResults,
		RelevanceThreshold: o.threshold,
		ExpandRelated:      o.expand,
		TextOnly:           o.textOnly,
	}
}

func writeContext(w io.Writer, format string, ac *domain.AssembledContext, maxLines int) error {
	if maxLines > 0 {
		ac = service.OptimizeForDisplay(ac, maxLines)
	}
	if format == "json" {
		return writeJSON(w, ac)
	}
	_, err := io.WriteString(w, service.ExportText(ac))
	return err
}
