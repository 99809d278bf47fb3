package parse

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/phobologic/impactscan/internal/lang"
)

func setup(t *testing.T, ext string) (*lang.Language, *Parser) {
	t.Helper()
	l := lang.ForExtension(ext)
	if l == nil {
		t.Fatalf("no language for %q", ext)
	}
	qc, err := NewQueryCache(8)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	return l, NewParser(qc)
}

func labelled(caps []Capture, label, text string) []Capture {
	var out []Capture
	for _, c := range caps {
		if c.Label == label && c.Text == text {
			out = append(out, c)
		}
	}
	return out
}

func TestRunReferences(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".py")

	src := []byte("from greeter import greet\n\nmessage = greet(\"World\")\n")
	res, err := p.Run(context.Background(), "main.py", ".py", l, lang.ReferenceRole, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer res.Close()

	refs := labelled(res.Captures, lang.CaptureReference, "greet")
	if len(refs) != 2 {
		t.Fatalf("got %d greet references, want 2", len(refs))
	}
	if refs[0].Row != 0 || refs[0].Column != 20 {
		t.Errorf("import position = %d:%d, want 0:20", refs[0].Row, refs[0].Column)
	}
	if refs[1].Row != 2 || refs[1].Column != 10 {
		t.Errorf("call position = %d:%d, want 2:10", refs[1].Row, refs[1].Column)
	}
}

func TestRunDefinitions(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".cs")

	src := []byte("class Greeter {\n  public string GreetPerson(string name) { return name; }\n}\n")
	res, err := p.Run(context.Background(), "Greeter.cs", ".cs", l, lang.DefinitionRole, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer res.Close()

	names := labelled(res.Captures, lang.CaptureName, "GreetPerson")
	if len(names) != 1 {
		t.Fatalf("got %d name captures, want 1", len(names))
	}
	found := false
	for _, c := range res.Captures {
		if c.Match == names[0].Match && c.Label == "definition.method" {
			found = true
			if c.Node.Type() != "method_declaration" {
				t.Errorf("definition node type = %q", c.Node.Type())
			}
		}
	}
	if !found {
		t.Error("no definition.method capture in the name's match")
	}
}

func TestRunNoDefinitionQuery(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".py")

	_, err := p.Run(context.Background(), "a.py", ".py", l, lang.DefinitionRole, []byte("x = 1\n"))
	var qe *QueryExecutionFailure
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QueryExecutionFailure", err)
	}
	if !errors.Is(err, ErrNoQuery) {
		t.Errorf("err = %v, want ErrNoQuery", err)
	}
	if qe.Path != "a.py" {
		t.Errorf("Path = %q, want a.py", qe.Path)
	}
}

func TestRunBrokenQuery(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".js")
	broken := l.WithReferenceQuery("(((broken")

	_, err := p.Run(context.Background(), "app.js", ".js", broken, lang.ReferenceRole, []byte("go();\n"))
	var qe *QueryExecutionFailure
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QueryExecutionFailure", err)
	}
	if qe.Language != "javascript" || qe.Role != lang.ReferenceRole {
		t.Errorf("failure = %+v", qe)
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".js")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, "app.js", ".js", l, lang.ReferenceRole, []byte("go();\n"))
	if err == nil {
		t.Fatal("Run succeeded on a canceled context")
	}
}

func TestParserSwitchesOnlyOnLanguageChange(t *testing.T) {
	t.Parallel()
	_, p := setup(t, ".py")
	py, js := lang.ForExtension(".py"), lang.ForExtension(".js")

	for _, l := range []*lang.Language{py, py, js, js, py} {
		tree, err := p.Parse(context.Background(), l, []byte("x = 1\n"))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		tree.Close()
	}
	if p.switches != 3 {
		t.Errorf("switches = %d, want 3", p.switches)
	}
}

func TestQueryCacheReuse(t *testing.T) {
	t.Parallel()
	l, p := setup(t, ".ts")

	q1, err := p.queries.Get(l, ".ts", lang.ReferenceRole)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	q2, err := p.queries.Get(l, ".ts", lang.ReferenceRole)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q1 != q2 {
		t.Error("second Get compiled a new query")
	}
	if _, err := p.queries.Get(l, ".ts", lang.DefinitionRole); err != nil {
		t.Fatalf("Get definitions: %v", err)
	}
	if p.queries.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.queries.Len())
	}

	// A different query text for the same extension and role is a new entry.
	if _, err := p.queries.Get(l.WithReferenceQuery("(identifier) @reference"), ".ts", lang.ReferenceRole); err != nil {
		t.Fatalf("Get override: %v", err)
	}
	if p.queries.Len() != 3 {
		t.Errorf("Len = %d, want 3", p.queries.Len())
	}
}

func TestQueryCacheConcurrent(t *testing.T) {
	t.Parallel()
	l := lang.ForExtension(".cs")
	qc, err := NewQueryCache(4)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := qc.Get(l, ".cs", lang.ReferenceRole); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Get: %v", err)
	}
	if qc.Len() != 1 {
		t.Errorf("Len = %d, want 1", qc.Len())
	}
}
