package service

import (
	"sort"

	"github.com/google/uuid"

	"pdfrag/loader/source"
	"pdfrag/types"
)

type Action int

const (
	Unchanged Action = iota
	Changed
	Deleted
)

func (a Action) String() string {
	switch a {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// PlanItem is the reconciliation decision for one document.
type PlanItem struct {
	Action Action
	ID     uuid.UUID
	Path   string
	// Entry is set for documents present in the source.
	Entry source.Entry
	// Known is the stored record, nil for new documents.
	Known *types.IngestedDocument
}

// Plan compares what the store knows about a source with what the source
// currently offers. Entries without a stored record, or whose version
// differs, are Changed; stored documents missing from entries are Deleted.
// Items are ordered by path.
func Plan(sourceID string, known []types.IngestedDocument, entries []source.Entry) []PlanItem {
	byID := make(map[uuid.UUID]types.IngestedDocument, len(known))
	for _, doc := range known {
		byID[doc.ID] = doc
	}

	items := make([]PlanItem, 0, len(entries)+len(known))
	seen := make(map[uuid.UUID]struct{}, len(entries))
	for _, e := range entries {
		id := types.DocumentID(sourceID, e.Path)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		item := PlanItem{Action: Changed, ID: id, Path: e.Path, Entry: e}
		if doc, ok := byID[id]; ok {
			item.Known = &doc
			if doc.Version == e.Version {
				item.Action = Unchanged
			}
		}
		items = append(items, item)
	}

	for _, doc := range known {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		items = append(items, PlanItem{Action: Deleted, ID: doc.ID, Path: doc.Path, Known: &doc})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items
}

// chunkDiff is the set of chunk writes needed to move a document from its
// stored chunks to freshly produced ones.
type chunkDiff struct {
	// keep holds chunks whose stored text and embedding are still valid.
	keep []types.IngestedChunk
	// embed holds new or changed chunks that need an embedding.
	embed  []types.IngestedChunk
	delete []uuid.UUID
}

// diffChunks matches fresh chunks to stored ones by id. A stored chunk with
// identical text and an embedding of the expected width is reused.
func diffChunks(stored, fresh []types.IngestedChunk, dims int) chunkDiff {
	old := make(map[uuid.UUID]types.IngestedChunk, len(stored))
	for _, ch := range stored {
		old[ch.ID] = ch
	}

	var d chunkDiff
	for _, ch := range fresh {
		prev, ok := old[ch.ID]
		delete(old, ch.ID)
		if ok && prev.Text == ch.Text && len(prev.Embedding) > 0 && (dims == 0 || len(prev.Embedding) == dims) {
			d.keep = append(d.keep, prev)
			continue
		}
		d.embed = append(d.embed, ch)
	}

	for _, ch := range stored {
		if _, gone := old[ch.ID]; gone {
			d.delete = append(d.delete, ch.ID)
		}
	}
	return d
}
