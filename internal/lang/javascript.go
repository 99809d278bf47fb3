package lang

import (
	"github.com/smacker/go-tree-sitter/javascript"
)

func init() {
	register(&Language{
		Name:            "javascript",
		Extensions:      []string{".js", ".jsx", ".mjs", ".cjs"},
		lang:            javascript.GetLanguage(),
		ReferenceQuery:  loadQuery("javascript", ReferenceRole),
		Wildcard:        "any",
		FindCall:        esFindCall,
		ApproximateType: esApproximateType,
	})
}
