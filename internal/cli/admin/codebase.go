package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
)

type codebaseLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Codebase, error)
	GetByName(ctx context.Context, name string) (*domain.Codebase, error)
}

type codebaseRegistrar interface {
	codebaseLookup
	Create(ctx context.Context, name string) (*domain.Codebase, error)
}

// resolveCodebase accepts either a codebase id or its name.
func resolveCodebase(ctx context.Context, lookup codebaseLookup, ref string) (*domain.Codebase, error) {
	if _, err := uuid.Parse(ref); err == nil {
		c, err := lookup.GetByID(ctx, ref)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrCodebaseNotFound) {
			return nil, err
		}
	}

	c, err := lookup.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrCodebaseNotFound) {
			return nil, fmt.Errorf("codebase not found: %s", ref)
		}
		return nil, err
	}
	return c, nil
}

// getOrCreateCodebase returns the codebase named name, registering it first
// if needed. The bool reports whether it was created.
func getOrCreateCodebase(ctx context.Context, reg codebaseRegistrar, name string) (*domain.Codebase, bool, error) {
	c, err := reg.GetByName(ctx, name)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, domain.ErrCodebaseNotFound) {
		return nil, false, err
	}

	c, err = reg.Create(ctx, name)
	if errors.Is(err, domain.ErrCodebaseAlreadyExists) {
		// lost a race with a concurrent create
		c, err = reg.GetByName(ctx, name)
		return c, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func CodebaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codebase",
		Short: "Manage codebases",
		Long:  "Create, list, and delete indexed codebases",
	}

	cmd.AddCommand(CodebaseCreateCmd())
	cmd.AddCommand(CodebaseListCmd())
	cmd.AddCommand(CodebaseDeleteCmd())

	return cmd
}

func CodebaseCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new codebase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			ctx := cmdContext(cmd)

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.codebases.Create(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create codebase: %w", err)
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Codebase created: %s (%s)\n", c.Name, c.ID)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func CodebaseListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List codebases",
		Long:  "List registered codebases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			ctx := cmdContext(cmd)

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.codebases.List(ctx, cursor, limit)
			if err != nil {
				return fmt.Errorf("failed to list codebases: %w", err)
			}
			return printCodebasePage(cmd.OutOrStdout(), output, page)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func printCodebasePage(w io.Writer, output string, page *pagination.PageResult[*domain.Codebase]) error {
	if output == "json" {
		return writeJSON(w, page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(w, "No codebases found")
		return nil
	}
	fmt.Fprintln(w, "Codebases:")
	for _, c := range page.Items {
		indexed := "never"
		if c.IndexedAt != nil {
			indexed = c.IndexedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %s: %s (%d files, %d chunks, indexed: %s)\n", c.ID, c.Name, c.FileCount, c.ChunkCount, indexed)
	}
	if page.HasMore && page.Cursor != "" {
		fmt.Fprintf(w, "\nMore results available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

func CodebaseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a codebase and its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := resolveCodebase(ctx, a.codebases, args[0])
			if err != nil {
				return err
			}
			if err := a.codebases.Delete(ctx, c.ID); err != nil {
				return fmt.Errorf("failed to delete codebase: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Codebase deleted: %s (%s)\n", c.Name, c.ID)
			return nil
		},
	}

	return cmd
}

// openApp wires the pipeline for one-shot commands. Migrations are left to
// serve and migrate.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, appOptions{})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
