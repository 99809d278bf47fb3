package discover

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func collect(t *testing.T, w *Walker) []string {
	t.Helper()
	var rels []string
	for p, err := range w.Files() {
		if err != nil {
			t.Fatalf("Files: %v", err)
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			t.Fatal(err)
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	sort.Strings(rels)
	return rels
}

func newTestWalker(t *testing.T, root string) *Walker {
	t.Helper()
	dirs, err := NewDirCache(64)
	if err != nil {
		t.Fatal(err)
	}
	return NewWalker(root, NewIgnoreSet(root, nil, discardLogger()), dirs, discardLogger())
}

func TestWalkYieldsFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "main.py", "print('hello')")
	writeFile(t, dir, "lib/util.js", "function helper() {}")
	writeFile(t, dir, "readme.txt", "hello")

	got := collect(t, newTestWalker(t, dir))
	want := []string{"lib/util.js", "main.py", "readme.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWalkSkipsDefaultPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "app.ts", "greet()")
	writeFile(t, dir, "node_modules/pkg/index.js", "greet()")
	writeFile(t, dir, "web/node_modules/pkg/index.js", "greet()")
	writeFile(t, dir, ".git/HEAD", "ref")
	writeFile(t, dir, ".vscode/settings.json", "{}")
	writeFile(t, dir, "dist/app.js", "greet()")
	writeFile(t, dir, "obj/Debug/App.cs", "Greet();")
	writeFile(t, dir, "types/app.d.ts", "declare function greet(): void")
	writeFile(t, dir, ".env", "SECRET=1")
	writeFile(t, dir, ".env.local", "SECRET=1")

	got := collect(t, newTestWalker(t, dir))
	if len(got) != 1 || got[0] != "app.ts" {
		t.Fatalf("expected only app.ts, got %v", got)
	}
}

func TestWalkHonoursGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "# generated code\n\ngenerated/\n*.log\n/rootonly.py\n")
	writeFile(t, dir, "keep.py", "pass")
	writeFile(t, dir, "generated/api.py", "pass")
	writeFile(t, dir, "debug.log", "x")
	writeFile(t, dir, "rootonly.py", "pass")
	writeFile(t, dir, "pkg/rootonly.py", "pass")

	got := collect(t, newTestWalker(t, dir))
	want := map[string]bool{".gitignore": true, "keep.py": true, "pkg/rootonly.py": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys of %v", got, want)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected file %q", g)
		}
	}
}

func TestWalkMissingRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "does-not-exist")
	w := NewWalker(root, nil, nil, discardLogger())
	n := 0
	for _, err := range w.Files() {
		if err != nil {
			t.Fatalf("missing root should not error: %v", err)
		}
		n++
	}
	if n != 0 {
		t.Errorf("expected no files, got %d", n)
	}
}

func TestWalkRootIsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "file.py", "pass")
	w := NewWalker(filepath.Join(dir, "file.py"), nil, nil, discardLogger())
	var gotErr error
	for _, err := range w.Files() {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatal("expected a walk-level error for a non-directory root")
	}
}

func TestWalkStopsEarly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "sub/d.py"} {
		writeFile(t, dir, name, "pass")
	}

	w := newTestWalker(t, dir)
	n := 0
	for range w.Files() {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2, got %d", n)
	}
}

func TestWalkDirCacheRefreshesOnModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.py", "pass")

	w := newTestWalker(t, dir)
	if got := collect(t, w); len(got) != 1 {
		t.Fatalf("first walk: %v", got)
	}
	if w.dirs.Len() == 0 {
		t.Fatal("expected the root listing to be cached")
	}

	writeFile(t, dir, "b.py", "pass")
	// Force a distinct mtime regardless of filesystem timestamp granularity.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(dir, future, future); err != nil {
		t.Fatal(err)
	}

	got := collect(t, w)
	if len(got) != 2 {
		t.Fatalf("second walk should see the new file, got %v", got)
	}
}

func TestWalkVanishedDirectorySkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a/gone.py", "pass")
	writeFile(t, dir, "b/kept.py", "pass")
	writeFile(t, dir, "c.py", "pass")

	var logs bytes.Buffer
	dirs, err := NewDirCache(64)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	w := NewWalker(dir, NewIgnoreSet(dir, nil, logger), dirs, logger)
	if got := collect(t, w); len(got) != 3 {
		t.Fatalf("first walk: %v", got)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	// Restore the root's mtime so the cached listing still names a/.
	if err := os.Chtimes(dir, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	got := collect(t, w)
	want := []string{"b/kept.py", "c.py"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !strings.Contains(logs.String(), "stat directory") {
		t.Errorf("expected a warning for the vanished directory, logs: %s", logs.String())
	}
}

func TestWalkSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.py", "pass")

	err := os.Symlink(filepath.Join(dir, "real.py"), filepath.Join(dir, "link.py"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	got := collect(t, newTestWalker(t, dir))
	if len(got) != 1 || got[0] != "real.py" {
		t.Fatalf("expected only real.py, got %v", got)
	}
}

func TestIgnoreSetMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "tmp/\n")
	s := NewIgnoreSet(dir, []string{"fixtures/**", "[bad"}, discardLogger())

	cases := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"src/app.ts", false, false},
		{"node_modules", true, true},
		{"node_modules/a/b.js", false, true},
		{"pkg/node_modules/x.js", false, true},
		{"src/types.d.ts", false, true},
		{"tmp", true, true},
		{"tmp/x.py", false, true},
		{"fixtures/sample.py", false, true},
		{"internal/foo.go", false, false},
		{"", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.rel, func(t *testing.T) {
			t.Parallel()
			if got := s.Match(tc.rel, tc.isDir); got != tc.want {
				t.Errorf("Match(%q, %v) = %v, want %v", tc.rel, tc.isDir, got, tc.want)
			}
		})
	}
}

func TestIgnoreSetSelfExclusion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module "+ModulePath+"\n\ngo 1.25.0\n")
	s := NewIgnoreSet(dir, nil, discardLogger())

	if !s.Match("internal/scan/scanner.go", false) {
		t.Error("tool's own internal/ tree should be excluded")
	}
	if !s.Match("analyze_test.go", false) {
		t.Error("tool's own tests should be excluded")
	}
	if s.Match("main.go", false) {
		t.Error("main.go should not be excluded")
	}

	other := t.TempDir()
	writeFile(t, other, "go.mod", "module example.com/consumer\n")
	if NewIgnoreSet(other, nil, discardLogger()).Match("internal/x.go", false) {
		t.Error("consumer repos keep their internal/ tree")
	}
}

func TestIgnoreSetUnreadableGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".gitignore"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "tmp/x.py", "pass")

	var logs bytes.Buffer
	s := NewIgnoreSet(dir, nil, slog.New(slog.NewTextHandler(&logs, nil)))

	if !strings.Contains(logs.String(), "reading ignore file") {
		t.Errorf("expected a warning for the unreadable ignore file, logs: %s", logs.String())
	}
	if s.Match("tmp/x.py", false) {
		t.Error("an unreadable ignore file should exclude nothing")
	}
	if !s.Match("node_modules/a.js", false) {
		t.Error("default patterns should still apply")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
