package chunk

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser. A sitter.Parser is not safe for
// concurrent use, so Parse is serialized.
type Parser struct {
	mu       sync.Mutex
	parser   *sitter.Parser
	registry *Registry
}

// NewParser creates a parser bound to the registry's grammars.
func NewParser(registry *Registry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source in the given language and returns the tree. The
// caller must call Close on the returned tree.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*sitter.Tree, error) {
	grammar, ok := p.registry.Grammar(language)
	if !ok {
		return nil, fmt.Errorf("no grammar for language %q", language)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.parser.SetLanguage(grammar)
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s source: %w", language, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse %s source: nil tree", language)
	}
	return tree, nil
}

// Close releases the underlying parser.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
}

// topBoundaryNodes collects boundary nodes, skipping descent into a
// boundary node so nested definitions stay inside their parent's chunk.
func topBoundaryNodes(root *sitter.Node, config *LanguageConfig) []*sitter.Node {
	var nodes []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child == nil {
				continue
			}
			if config.isBoundary(child.Type()) {
				nodes = append(nodes, child)
				continue
			}
			walk(child)
		}
	}
	walk(root)
	return nodes
}

// nodeName returns the symbol name of a boundary node via the
// language's name field, descending through wrapper nodes such as
// Python decorated_definition or TS lexical_declaration.
func nodeName(n *sitter.Node, source []byte, config *LanguageConfig) string {
	if name := n.ChildByFieldName(config.NameField); name != nil {
		return name.Content(source)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if name := child.ChildByFieldName(config.NameField); name != nil {
			return name.Content(source)
		}
	}
	return ""
}
