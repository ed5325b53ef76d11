package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChunkKind classifies a semantic unit of source code
type ChunkKind string

const (
	ChunkKindFunction  ChunkKind = "function"
	ChunkKindClass     ChunkKind = "class"
	ChunkKindMethod    ChunkKind = "method"
	ChunkKindVariable  ChunkKind = "variable"
	ChunkKindImport    ChunkKind = "import"
	ChunkKindExport    ChunkKind = "export"
	ChunkKindInterface ChunkKind = "interface"
	ChunkKindType      ChunkKind = "type"
	ChunkKindBlock     ChunkKind = "block"
)

// chunkIDPrefixLen is the number of content characters mixed into a chunk id.
const chunkIDPrefixLen = 100

// ChunkMetadata carries the derived attributes of a chunk
type ChunkMetadata struct {
	Language     string   `json:"language"`
	Complexity   int      `json:"complexity"`
	Dependencies []string `json:"dependencies,omitempty"`
	Exports      []string `json:"exports,omitempty"`
	Imports      []string `json:"imports,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

// CodeChunk is a semantic slice of one source file. Line numbers are 1-based
// and inclusive.
type CodeChunk struct {
	ID          string        `json:"id"`
	Content     string        `json:"content"`
	Kind        ChunkKind     `json:"kind"`
	Name        string        `json:"name,omitempty"`
	FilePath    string        `json:"file_path"`
	StartLine   int           `json:"start_line"`
	EndLine     int           `json:"end_line"`
	Metadata    ChunkMetadata `json:"metadata"`
	ParentChunk string        `json:"parent_chunk,omitempty"`
	ChildChunks []string      `json:"child_chunks,omitempty"`
}

// ChunkID derives the stable identifier of a chunk from its location and the
// first characters of its content.
func ChunkID(filePath string, startLine, endLine int, content string) string {
	prefix := content
	if r := []rune(content); len(r) > chunkIDPrefixLen {
		prefix = string(r[:chunkIDPrefixLen])
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d:%s", filePath, startLine, endLine, prefix)))
	return hex.EncodeToString(sum[:16])
}

// ContentHash returns the hex sha256 of a file's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsValidChunkKind checks if a ChunkKind is valid
func IsValidChunkKind(k ChunkKind) bool {
	switch k {
	case ChunkKindFunction, ChunkKindClass, ChunkKindMethod, ChunkKindVariable,
		ChunkKindImport, ChunkKindExport, ChunkKindInterface, ChunkKindType, ChunkKindBlock:
		return true
	}
	return false
}

// ValidateCodeChunk validates a CodeChunk instance
func ValidateCodeChunk(c *CodeChunk) error {
	if c == nil {
		return fmt.Errorf("code chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("code chunk ID is required")
	}

	if c.FilePath == "" {
		return fmt.Errorf("code chunk FilePath is required")
	}

	if !IsValidChunkKind(c.Kind) {
		return fmt.Errorf("code chunk Kind is invalid: %s", c.Kind)
	}

	if c.StartLine < 1 || c.EndLine < c.StartLine {
		return fmt.Errorf("code chunk line range is invalid: %d-%d", c.StartLine, c.EndLine)
	}

	if c.Metadata.Complexity < 1 || c.Metadata.Complexity > 10 {
		return fmt.Errorf("code chunk complexity out of range: %d", c.Metadata.Complexity)
	}

	return nil
}
