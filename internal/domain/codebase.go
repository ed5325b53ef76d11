package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Codebase is an indexed source tree; its ID is the scope id that partitions
// stored files and vectors.
type Codebase struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	FileCount  int        `json:"file_count"`
	ChunkCount int        `json:"chunk_count"`
	CreatedAt  time.Time  `json:"created_at"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

// CodebaseFile is a stored snapshot of one source file
type CodebaseFile struct {
	CodebaseID  string    `json:"codebase_id"`
	Path        string    `json:"path"`
	Content     string    `json:"content"`
	Language    string    `json:"language"`
	Lines       int       `json:"lines"`
	ContentHash string    `json:"content_hash"`
	Imports     []string  `json:"imports,omitempty"`
	Exports     []string  `json:"exports,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewCodebaseFile fills in the derived fields of a file snapshot.
func NewCodebaseFile(codebaseID, filePath, content, language string) *CodebaseFile {
	lines := 0
	if content != "" {
		lines = strings.Count(content, "\n") + 1
	}
	return &CodebaseFile{
		CodebaseID:  codebaseID,
		Path:        filePath,
		Content:     content,
		Language:    language,
		Lines:       lines,
		ContentHash: ContentHash(content),
		UpdatedAt:   time.Now(),
	}
}

// ValidateCodebase validates a Codebase instance
func ValidateCodebase(c *Codebase) error {
	if c == nil {
		return fmt.Errorf("codebase cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("codebase ID is required")
	}

	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("codebase Name is required")
	}

	return nil
}

// ValidateFilePath rejects absolute paths and paths escaping the codebase root.
func ValidateFilePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\..") {
		return ErrInvalidFilePath
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidFilePath
	}
	return nil
}
