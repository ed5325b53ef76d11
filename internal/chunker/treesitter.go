package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/cloo-solutions/codelens/internal/domain"
)

var errSyntax = errors.New("syntax errors in source")

func grammar(language string) *sitter.Language {
	switch language {
	case LangPython:
		return python.GetLanguage()
	case LangJava:
		return java.GetLanguage()
	}
	return nil
}

// treeExtractor walks the top-level nodes of a tree-sitter syntax tree.
type treeExtractor struct {
	src      []byte
	lines    []string
	filePath string
	language string
	chunks   []domain.CodeChunk
}

// extractTree parses Python and Java with tree-sitter. Files containing
// syntax errors are rejected so the caller falls back to generic chunking.
func (c *Chunker) extractTree(filePath, content, language string) ([]domain.CodeChunk, error) {
	lang := grammar(language)
	if lang == nil {
		return nil, fmt.Errorf("no grammar for %s", language)
	}

	src := []byte(content)
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, errSyntax
	}

	x := &treeExtractor{
		src:      src,
		lines:    strings.Split(content, "\n"),
		filePath: filePath,
		language: language,
	}
	if language == LangPython {
		x.python(root)
	} else {
		x.java(root)
	}
	return x.chunks, nil
}

// span converts a node to 1-based inclusive line numbers.
func span(n *sitter.Node) (int, int) {
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1
	if n.EndPoint().Column == 0 && end > start {
		end--
	}
	return start, end
}

func (x *treeExtractor) add(kind domain.ChunkKind, name string, start, end int) *domain.CodeChunk {
	x.chunks = append(x.chunks, newChunk(x.filePath, x.language, kind, name, x.lines, start, end))
	return &x.chunks[len(x.chunks)-1]
}

func (x *treeExtractor) name(n *sitter.Node) string {
	if id := n.ChildByFieldName("name"); id != nil {
		return id.Content(x.src)
	}
	return ""
}

// importRun accumulates consecutive import nodes into one chunk.
type importRun struct {
	start, end int
}

func (r *importRun) extend(n *sitter.Node) {
	s, e := span(n)
	if r.start == 0 {
		r.start = s
	}
	r.end = e
}

func (x *treeExtractor) flush(r *importRun) {
	if r.start > 0 {
		x.add(domain.ChunkKindImport, "imports", r.start, r.end)
	}
	*r = importRun{}
}

func (x *treeExtractor) python(root *sitter.Node) {
	var run importRun
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			run.extend(n)
			continue
		case "comment":
			continue
		}
		x.flush(&run)

		switch n.Type() {
		case "function_definition":
			start, end := span(n)
			x.add(domain.ChunkKindFunction, x.name(n), start, end)
		case "class_definition":
			x.pythonClass(n, n)
		case "decorated_definition":
			def := n.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			if def.Type() == "class_definition" {
				x.pythonClass(n, def)
			} else {
				start, end := span(n)
				x.add(domain.ChunkKindFunction, x.name(def), start, end)
			}
		case "expression_statement":
			if n.NamedChildCount() == 0 || n.NamedChild(0).Type() != "assignment" {
				continue
			}
			left := n.NamedChild(0).ChildByFieldName("left")
			name := ""
			if left != nil {
				name = left.Content(x.src)
			}
			start, end := span(n)
			x.add(domain.ChunkKindVariable, name, start, end)
		}
	}
	x.flush(&run)
}

// pythonClass emits a class spanning outer (which includes decorators) and
// one method chunk per function in def's body.
func (x *treeExtractor) pythonClass(outer, def *sitter.Node) {
	start, end := span(outer)
	classID := x.add(domain.ChunkKindClass, x.name(def), start, end).ID
	classIdx := len(x.chunks) - 1

	body := def.ChildByFieldName("body")
	if body == nil {
		return
	}
	var children []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		fn := member
		if member.Type() == "decorated_definition" {
			fn = member.ChildByFieldName("definition")
		}
		if fn == nil || fn.Type() != "function_definition" {
			continue
		}
		s, e := span(member)
		m := x.add(domain.ChunkKindMethod, x.name(fn), s, e)
		m.ParentChunk = classID
		children = append(children, m.ID)
	}
	x.chunks[classIdx].ChildChunks = children
}

var javaTypeKinds = map[string]domain.ChunkKind{
	"class_declaration":           domain.ChunkKindClass,
	"enum_declaration":            domain.ChunkKindClass,
	"record_declaration":          domain.ChunkKindClass,
	"interface_declaration":       domain.ChunkKindInterface,
	"annotation_type_declaration": domain.ChunkKindInterface,
}

func (x *treeExtractor) java(root *sitter.Node) {
	var run importRun
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_declaration", "package_declaration":
			run.extend(n)
			continue
		case "line_comment", "block_comment":
			continue
		}
		x.flush(&run)

		if kind, ok := javaTypeKinds[n.Type()]; ok {
			x.javaType(n, kind)
		}
	}
	x.flush(&run)
}

func (x *treeExtractor) javaType(n *sitter.Node, kind domain.ChunkKind) {
	start, end := span(n)
	classID := x.add(kind, x.name(n), start, end).ID
	classIdx := len(x.chunks) - 1

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	members := make([]*sitter.Node, 0, body.NamedChildCount())
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() == "enum_body_declarations" {
			for j := 0; j < int(member.NamedChildCount()); j++ {
				members = append(members, member.NamedChild(j))
			}
			continue
		}
		members = append(members, member)
	}

	var children []string
	for _, member := range members {
		switch member.Type() {
		case "method_declaration", "constructor_declaration", "compact_constructor_declaration":
		default:
			continue
		}
		s, e := span(member)
		m := x.add(domain.ChunkKindMethod, x.name(member), s, e)
		m.ParentChunk = classID
		children = append(children, m.ID)
	}
	x.chunks[classIdx].ChildChunks = children
}
