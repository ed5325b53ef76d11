package admin

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/embedding"
	"github.com/cloo-solutions/codelens/internal/walker"
)

// IndexCmd returns the index command
func IndexCmd() *cobra.Command {
	var (
		name        string
		output      string
		maxFileSize int64
		extensions  []string
	)

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index a local directory",
		Long: "Walk a directory, store its source files and embed their chunks.\n" +
			"The codebase is created on first use and re-indexed in full afterwards.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(root)
			}

			files, stats, err := walker.Walk(root, walker.Options{MaxFileSize: maxFileSize, Extensions: extensions})
			if err != nil {
				return fmt.Errorf("failed to walk %s: %w", root, err)
			}
			log.Printf("walker: %d files (%d ignored, %d too large, %d binary)", stats.Files, stats.Ignored, stats.TooLarge, stats.Binary)
			if len(files) == 0 {
				return fmt.Errorf("no indexable files under %s", root)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, created, err := getOrCreateCodebase(ctx, a.codebases, name)
			if err != nil {
				return fmt.Errorf("failed to resolve codebase: %w", err)
			}
			if created {
				log.Printf("created codebase '%s' (id: %s)", c.Name, c.ID)
			}

			report, err := a.indexing.IndexCodebase(ctx, c.ID, files, progressPrinter(os.Stderr))
			if err != nil {
				return fmt.Errorf("failed to index codebase: %w", err)
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"codebase": c,
					"report":   report,
				})
			}
			printIndexReport(cmd.OutOrStdout(), c, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Codebase name (default: directory name)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text or json)")
	cmd.Flags().Int64Var(&maxFileSize, "max-file-size", walker.DefaultMaxFileSize, "Skip files larger than this many bytes")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "Only index these extensions (e.g. .go,.py)")

	return cmd
}

func progressPrinter(w io.Writer) embedding.ProgressFunc {
	return func(p embedding.Progress) {
		fmt.Fprintf(w, "\rembedding batch %d/%d: %d/%d chunks", p.Batch, p.Batches, p.Embedded, p.Total)
		if p.Failed > 0 {
			fmt.Fprintf(w, " (%d failed)", p.Failed)
		}
		if p.Batch == p.Batches {
			fmt.Fprintln(w)
		}
	}
}

func printIndexReport(w io.Writer, c *domain.Codebase, r *domain.IndexReport) {
	fmt.Fprintf(w, "Indexed %s (%s)\n", c.Name, c.ID)
	fmt.Fprintf(w, "  files:    %d\n", r.Files)
	fmt.Fprintf(w, "  chunks:   %d\n", r.Chunks)
	fmt.Fprintf(w, "  embedded: %d (%.0f%%)\n", r.Embedded, r.SuccessRate*100)
	if r.Failed > 0 {
		fmt.Fprintf(w, "  failed:   %d\n", r.Failed)
	}
	fmt.Fprintf(w, "  elapsed:  %s\n", r.Elapsed.Round(1e6))
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "  errors:\n    %s\n", strings.Join(r.Errors, "\n    "))
	}
}
