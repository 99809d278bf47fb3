package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- impactscan:start -->"
	sentinelEnd   = "<!-- impactscan:end -->"
)

const defaultInstructionsFile = "AGENTS.md"

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "init [path-to-" + defaultInstructionsFile + "]",
		Short: "Write an impactscan usage section to an agent instructions file",
		Long: `Write an impactscan usage section to an agent instructions file. The section
is wrapped in sentinel comments so it can be updated in place on subsequent
runs without touching surrounding content. Creates the file if it does not
exist.

The path defaults to ./` + defaultInstructionsFile + `.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInit(args, dryRun, stdout, stderr)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// runInit writes (or updates) the impactscan section in the file named by
// args, or prints it when dryRun is set.
func runInit(args []string, dryRun bool, stdout, stderr io.Writer) error {
	section := generateSection()

	// --dry-run with no path: just print the section itself.
	if dryRun && len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, section)
		return nil
	}

	path := defaultInstructionsFile
	if len(args) > 0 {
		path = args[0]
	}

	existing, _ := os.ReadFile(path)
	updated := applySection(string(existing), section)

	if dryRun {
		_, _ = fmt.Fprint(stdout, updated)
		return nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote impactscan section to %s\n", path)
	return nil
}

// generateSection returns the full sentinel-wrapped usage block.
func generateSection() string {
	body := `## impactscan: check the blast radius before changing a signature

Before renaming, removing, or changing the parameters of a function, method,
or class, call the ` + "`show_impacted_code`" + ` MCP tool with:

- ` + "`repoPath`" + `: absolute path of the repository root
- ` + "`filePath`" + `: the file that defines the element, relative to repoPath
- ` + "`elementName`" + `: the element's name
- ` + "`elementType`" + ` (optional): function, method, or class

Without MCP, run it via the Bash tool:
` + "```" + `bash
impactscan analyze --file src/greeter.ts --name greet
impactscan analyze --repo /path/to/repo --file Greeter.cs --name GreetPerson --type method
impactscan analyze --file app/models.py --name User --format toon
` + "```" + `

**All flags:** ` + "`impactscan analyze --help`" + `

**How to use the output:**

1. **Update every listed call site** in the same change as the signature edit.
   Each ` + "`Impacted file:`" + ` block lists the lines that reference the element.

2. **Treat a leading "Analysis stopped" line as incomplete.** The scan hit its
   time, file, or match budget; fall back to Grep for the remaining files.

3. **Dynamic calls are invisible.** Reflection, string-based dispatch, and
   generated code are not detected.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
