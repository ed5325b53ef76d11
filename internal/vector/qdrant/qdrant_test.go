package qdrant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/domain"
)

func sampleChunk() domain.CodeChunk {
	return domain.CodeChunk{
		ID:        "0123456789abcdef0123456789abcdef",
		Content:   "def parse(text):\n    return text.split()",
		Kind:      domain.ChunkKindFunction,
		Name:      "parse",
		FilePath:  "tools/parse.py",
		StartLine: 3,
		EndLine:   4,
		Metadata: domain.ChunkMetadata{
			Language:   "python",
			Complexity: 2,
			Imports:    []string{"re"},
			Keywords:   []string{"parse", "text"},
		},
	}
}

func TestPointID(t *testing.T) {
	a := pointID("scope-a", "chunk")
	b := pointID("scope-b", "chunk")

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, pointID("scope-a", "chunk"))
}

func TestPayloadRoundTrip(t *testing.T) {
	c := sampleChunk()
	point := newPoint("scope-a", c, domain.EmbeddingResult{ChunkID: c.ID, Vector: []float32{0.1, 0.2}, Model: "m"})

	assert.Equal(t, pointID("scope-a", c.ID), point.GetId().GetUuid())
	assert.Equal(t, "m", point.GetPayload()[fieldModel].GetStringValue())

	got := resultFromPayload(point.GetPayload(), 0.75)

	assert.Equal(t, c.ID, got.ChunkID)
	assert.Equal(t, 0.75, got.Score)
	assert.Equal(t, domain.MetadataFromChunk("scope-a", c), got.Metadata)
	assert.Equal(t, c.Name, domain.ChunkFromMetadata(got.ChunkID, got.Metadata).Name)
}

func TestResultFromPayload_MissingFields(t *testing.T) {
	got := resultFromPayload(nil, 0.2)

	assert.Empty(t, got.ChunkID)
	assert.Zero(t, got.Metadata.StartLine)
	assert.Nil(t, got.Metadata.Keywords)

	chunk := domain.ChunkFromMetadata(got.ChunkID, got.Metadata)
	assert.Equal(t, domain.ChunkKindBlock, chunk.Kind)
	assert.Equal(t, "unknown", chunk.Metadata.Language)
}

func TestScopeFilter(t *testing.T) {
	f := scopeFilter("scope-a", nil)
	require.Len(t, f.GetMust(), 1)
	assert.Equal(t, fieldScopeID, f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "scope-a", f.GetMust()[0].GetField().GetMatch().GetKeyword())

	f = scopeFilter("scope-a", []string{"go", "python"})
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, fieldLanguage, f.GetMust()[1].GetField().GetKey())
	assert.Equal(t, []string{"go", "python"}, f.GetMust()[1].GetField().GetMatch().GetKeywords().GetStrings())
}
