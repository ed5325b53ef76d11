// Package cli provides shared helpers for the codelensd command tree.
package cli

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// Flag describes one command-line flag in the --help-json output.
type Flag struct {
	Name       string `json:"name"`
	Shorthand  string `json:"shorthand,omitempty"`
	Type       string `json:"type"`
	Default    string `json:"default,omitempty"`
	Usage      string `json:"usage,omitempty"`
	Required   bool   `json:"required"`
	Persistent bool   `json:"persistent,omitempty"`
}

// Command is the machine-readable description of a command and its
// visible subcommands, used by scripts that drive codelensd.
type Command struct {
	Path     string    `json:"path"`
	Use      string    `json:"use"`
	Short    string    `json:"short,omitempty"`
	Long     string    `json:"long,omitempty"`
	Aliases  []string  `json:"aliases,omitempty"`
	Runnable bool      `json:"runnable"`
	Flags    []Flag    `json:"flags,omitempty"`
	Commands []Command `json:"commands,omitempty"`
}

func Describe(cmd *cobra.Command) Command {
	out := Command{
		Path:     cmd.CommandPath(),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Long:     cmd.Long,
		Aliases:  cmd.Aliases,
		Runnable: cmd.Runnable(),
		Flags:    describeFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		out.Commands = append(out.Commands, Describe(sub))
	}
	return out
}

func describeFlags(cmd *cobra.Command) []Flag {
	persistent := map[string]bool{}
	cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) { persistent[f.Name] = true })

	var flags []Flag
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" || f.Name == helpJSONFlag {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, Flag{
			Name:       f.Name,
			Shorthand:  f.Shorthand,
			Type:       f.Value.Type(),
			Default:    f.DefValue,
			Usage:      f.Usage,
			Required:   required,
			Persistent: persistent[f.Name],
		})
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

// AddHelpJSONFlag registers --help-json on root and all its descendants.
func AddHelpJSONFlag(root *cobra.Command) {
	root.PersistentFlags().Bool(helpJSONFlag, false, "Print the command tree as JSON and exit")
}

// HandleHelpJSON writes the description of the command args address when
// args contain --help-json. It runs before cobra parses flags so that
// required flags and positional args are not enforced. It reports whether
// the flag was present.
func HandleHelpJSON(root *cobra.Command, args []string, w io.Writer) (bool, error) {
	path := make([]string, 0, len(args))
	found := false
	for _, arg := range args {
		if arg == "--"+helpJSONFlag {
			found = true
			break
		}
		path = append(path, arg)
	}
	if !found {
		return false, nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return true, enc.Encode(Describe(resolve(root, path)))
}

// resolve walks the leading non-flag args down the command tree.
func resolve(cmd *cobra.Command, args []string) *cobra.Command {
	for _, arg := range args {
		next := findSub(cmd, arg)
		if next == nil {
			break
		}
		cmd = next
	}
	return cmd
}

func findSub(cmd *cobra.Command, name string) *cobra.Command {
	for _, sub := range cmd.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return sub
		}
	}
	return nil
}
