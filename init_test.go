package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplySection(t *testing.T) {
	t.Parallel()

	section := sentinelStart + "\nnew content\n" + sentinelEnd
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{
			name: "empty file",
			want: "\n" + section + "\n",
		},
		{
			name:     "append keeps existing content",
			existing: "# Project\n",
			want:     "# Project\n\n" + section + "\n",
		},
		{
			name:     "append adds missing newline",
			existing: "# Project",
			want:     "# Project\n\n" + section + "\n",
		},
		{
			name:     "replace in place",
			existing: "# Project\n\n" + sentinelStart + "\nold content\n" + sentinelEnd + "\n\n## Other\n",
			want:     "# Project\n\n" + section + "\n\n## Other\n",
		},
		{
			name:     "end sentinel before start appends",
			existing: sentinelEnd + "\n" + sentinelStart + "\n",
			want:     sentinelEnd + "\n" + sentinelStart + "\n\n" + section + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applySection(tt.existing, section); got != tt.want {
				t.Errorf("applySection:\ngot:\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

// TestInitCreatesFile verifies that runInit creates the target file when it
// does not exist.
func TestInitCreatesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultInstructionsFile)

	var stdout, stderr bytes.Buffer
	if err := runInit([]string{path}, false, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, sentinelStart) {
		t.Error("sentinel start missing from created file")
	}
	if !strings.Contains(content, sentinelEnd) {
		t.Error("sentinel end missing from created file")
	}
}

// TestInitDryRun verifies that --dry-run prints the full would-be file content
// to stdout and does not create or modify the target file.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultInstructionsFile)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run", path}, &stdout, &stderr); err != nil {
		t.Fatalf("run init: %v", err)
	}

	if _, err := os.Stat(path); err == nil {
		t.Error("--dry-run should not create the file")
	}
	out := stdout.String()
	if !strings.Contains(out, sentinelStart) {
		t.Error("dry-run output missing sentinel start")
	}
	if !strings.Contains(out, sentinelEnd) {
		t.Error("dry-run output missing sentinel end")
	}
}

// TestInitDryRunNoPath verifies that --dry-run without a path prints just the
// generated section to stdout without touching any file.
func TestInitDryRunNoPath(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run"}, &stdout, &stderr); err != nil {
		t.Fatalf("run init: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, sentinelStart) {
		t.Error("output missing sentinel start")
	}
	if !strings.Contains(out, sentinelEnd) {
		t.Error("output missing sentinel end")
	}
	// Should be just the section, no surrounding file boilerplate.
	if strings.HasPrefix(out, "\n") {
		t.Error("output should not have a leading newline when no file is given")
	}
}

// TestInitDryRunShowsFullFile verifies that --dry-run on an existing file
// shows the complete would-be file content, including surrounding text.
func TestInitDryRunShowsFullFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultInstructionsFile)

	existing := "# My Project\n\nSome existing content.\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run", path}, &stdout, &stderr); err != nil {
		t.Fatalf("run init: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "# My Project") {
		t.Error("dry-run output missing existing file content")
	}
	if !strings.Contains(out, sentinelStart) {
		t.Error("dry-run output missing sentinel start")
	}
	// File on disk should be unchanged.
	data, _ := os.ReadFile(path)
	if string(data) != existing {
		t.Error("--dry-run must not modify the file")
	}
}

// TestInitIdempotent verifies that running init twice produces identical output.
func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultInstructionsFile)

	var buf bytes.Buffer
	if err := runInit([]string{path}, false, &buf, &buf); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := os.ReadFile(path)

	if err := runInit([]string{path}, false, &buf, &buf); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Errorf("init is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

// TestInitSectionContainsHelpRef verifies the generated section points to --help.
func TestInitSectionContainsHelpRef(t *testing.T) {
	t.Parallel()
	section := generateSection()
	if !strings.Contains(section, "--help") {
		t.Error("generated section should reference --help for flag list")
	}
}

// TestInitSectionContainsExamples verifies the generated section names the
// tool, its arguments and example CLI invocations.
func TestInitSectionContainsExamples(t *testing.T) {
	t.Parallel()
	section := generateSection()

	examples := []string{
		"show_impacted_code",
		"repoPath",
		"filePath",
		"elementName",
		"impactscan analyze --file",
		"--format toon",
		"Analysis stopped",
	}
	for _, ex := range examples {
		if !strings.Contains(section, ex) {
			t.Errorf("generated section missing example %q", ex)
		}
	}
}

// TestInitTooManyArgs verifies that init accepts at most one path.
func TestInitTooManyArgs(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "a.md", "b.md"}, &stdout, &stderr); err == nil {
		t.Error("expected error for two path arguments")
	}
}
