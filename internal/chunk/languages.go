package chunk

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to chunk one language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// BoundaryTypes are the AST node types that start a new chunk.
	BoundaryTypes []string

	// NameField is the tree-sitter field carrying the symbol name.
	NameField string
}

func (c *LanguageConfig) isBoundary(nodeType string) bool {
	for _, t := range c.BoundaryTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// Registry maps languages and file extensions to configurations and
// tree-sitter grammars.
type Registry struct {
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

// NewRegistry builds a registry with the built-in languages.
func NewRegistry() *Registry {
	r := &Registry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		BoundaryTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
			"const_declaration",
			"var_declaration",
		},
		NameField: "name",
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		BoundaryTypes: []string{
			"function_definition",
			"class_definition",
			"decorated_definition",
		},
		NameField: "name",
	}, python.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		BoundaryTypes: []string{
			"function_item",
			"impl_item",
			"struct_item",
			"enum_item",
			"trait_item",
			"mod_item",
		},
		NameField: "name",
	}, rust.GetLanguage())

	tsBoundaries := []string{
		"function_declaration",
		"class_declaration",
		"interface_declaration",
		"type_alias_declaration",
		"enum_declaration",
		"lexical_declaration",
	}
	r.register(&LanguageConfig{
		Name:          "typescript",
		Extensions:    []string{".ts", ".mts", ".cts"},
		BoundaryTypes: tsBoundaries,
		NameField:     "name",
	}, typescript.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "tsx",
		Extensions:    []string{".tsx"},
		BoundaryTypes: tsBoundaries,
		NameField:     "name",
	}, tsx.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		BoundaryTypes: []string{
			"function_declaration",
			"class_declaration",
			"lexical_declaration",
			"variable_declaration",
		},
		NameField: "name",
	}, javascript.GetLanguage())

	return r
}

func (r *Registry) register(config *LanguageConfig, grammar *sitter.Language) {
	r.configs[config.Name] = config
	r.grammars[config.Name] = grammar
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// LanguageForPath maps a path to a language name by extension. Unknown
// extensions map to "text", which is still indexed.
func (r *Registry) LanguageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := r.extToLang[ext]; ok {
		return lang
	}
	return "text"
}

// Config returns the configuration for a language name.
func (r *Registry) Config(name string) (*LanguageConfig, bool) {
	c, ok := r.configs[name]
	return c, ok
}

// Grammar returns the tree-sitter grammar for a language name.
func (r *Registry) Grammar(name string) (*sitter.Language, bool) {
	g, ok := r.grammars[name]
	return g, ok
}
