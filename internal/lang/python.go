package lang

import (
	"github.com/smacker/go-tree-sitter/python"
)

// Python parameters are rarely annotated, so no definition query is
// registered and references are matched by name only.
func init() {
	register(&Language{
		Name:           "python",
		Extensions:     []string{".py"},
		lang:           python.GetLanguage(),
		ReferenceQuery: loadQuery("python", ReferenceRole),
		Wildcard:       "Any",
	})
}
