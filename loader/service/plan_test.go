package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/loader/source"
	"pdfrag/types"
)

func TestPlan(t *testing.T) {
	const sourceID = "docs"
	known := []types.IngestedDocument{
		{ID: types.DocumentID(sourceID, "same.pdf"), SourceID: sourceID, Path: "same.pdf", Version: "v1"},
		{ID: types.DocumentID(sourceID, "edited.pdf"), SourceID: sourceID, Path: "edited.pdf", Version: "v1"},
		{ID: types.DocumentID(sourceID, "gone.pdf"), SourceID: sourceID, Path: "gone.pdf", Version: "v1"},
	}
	entries := []source.Entry{
		{Path: "same.pdf", Version: "v1"},
		{Path: "edited.pdf", Version: "v2"},
		{Path: "new.pdf", Version: "v1"},
	}

	plan := Plan(sourceID, known, entries)
	require.Len(t, plan, 4)

	got := make(map[string]Action)
	for _, item := range plan {
		got[item.Path] = item.Action
		assert.Equal(t, types.DocumentID(sourceID, item.Path), item.ID)
	}
	assert.Equal(t, map[string]Action{
		"same.pdf":   Unchanged,
		"edited.pdf": Changed,
		"new.pdf":    Changed,
		"gone.pdf":   Deleted,
	}, got)

	assert.Equal(t, "edited.pdf", plan[0].Path, "ordered by path")
	require.NotNil(t, plan[0].Known)
	assert.Equal(t, "v1", plan[0].Known.Version)
	assert.Equal(t, "v2", plan[0].Entry.Version)
	assert.Nil(t, plan[2].Known, "new.pdf has no stored record")
}

func TestPlan_EmptyInputs(t *testing.T) {
	assert.Empty(t, Plan("s", nil, nil))

	plan := Plan("s", nil, []source.Entry{{Path: "a.pdf", Version: "1"}})
	require.Len(t, plan, 1)
	assert.Equal(t, Changed, plan[0].Action)
}

func TestPlan_IgnoresDuplicateEntries(t *testing.T) {
	plan := Plan("s", nil, []source.Entry{{Path: "a.pdf", Version: "1"}, {Path: "a.pdf", Version: "2"}})
	require.Len(t, plan, 1)
	assert.Equal(t, "1", plan[0].Entry.Version)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "deleted", Deleted.String())
}

func TestDiffChunks(t *testing.T) {
	doc := uuid.New()
	chunk := func(page, index int, text string, emb ...float32) types.IngestedChunk {
		return types.IngestedChunk{
			ID:         types.ChunkID(doc, page, index),
			DocumentID: doc,
			Page:       page,
			Index:      index,
			Text:       text,
			Embedding:  emb,
		}
	}

	stored := []types.IngestedChunk{
		chunk(1, 0, "kept", 1, 0),
		chunk(1, 1, "old text", 0, 1),
		chunk(2, 0, "dropped", 1, 1),
		chunk(3, 0, "wrong width", 1),
	}
	fresh := []types.IngestedChunk{
		chunk(1, 0, "kept"),
		chunk(1, 1, "new text"),
		chunk(1, 2, "added"),
		chunk(3, 0, "wrong width"),
	}

	d := diffChunks(stored, fresh, 2)
	require.Len(t, d.keep, 1)
	assert.Equal(t, "kept", d.keep[0].Text)
	assert.Equal(t, []float32{1, 0}, d.keep[0].Embedding)

	var embed []string
	for _, ch := range d.embed {
		embed = append(embed, ch.Text)
	}
	assert.Equal(t, []string{"new text", "added", "wrong width"}, embed)
	assert.Equal(t, []uuid.UUID{types.ChunkID(doc, 2, 0)}, d.delete)
}

func TestDiffChunks_NothingStored(t *testing.T) {
	doc := uuid.New()
	fresh := []types.IngestedChunk{{ID: types.ChunkID(doc, 1, 0), DocumentID: doc, Text: "a"}}

	d := diffChunks(nil, fresh, 0)
	assert.Empty(t, d.keep)
	assert.Len(t, d.embed, 1)
	assert.Empty(t, d.delete)
}
