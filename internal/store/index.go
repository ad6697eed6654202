package store

import (
	"context"
	"fmt"

	"github.com/coder/hnsw"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// indexMaxNeighbors is the HNSW M parameter.
const indexMaxNeighbors = 16

// IdentifyMatch is one candidate from the identify index.
type IdentifyMatch struct {
	Username   string
	Label      string
	Similarity float64
}

// IdentifyIndex answers "whose face is this" over every enrolled template.
// Enrollment sets are small, so each command run rebuilds it from the store
// instead of persisting the graph.
type IdentifyIndex struct {
	graph *hnsw.Graph[int64]
	meta  map[int64]indexEntry
}

type indexEntry struct {
	username string
	label    string
}

// BuildIdentifyIndex loads every enrolled embedding into an HNSW graph
// keyed by embedding row ID.
func (s *Store) BuildIdentifyIndex(ctx context.Context) (*IdentifyIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.id, e.vector, e.label, u.username
FROM embeddings e
JOIN users u ON u.id = e.user_id`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	g := hnsw.NewGraph[int64]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	idx := &IdentifyIndex{graph: g, meta: make(map[int64]indexEntry)}

	for rows.Next() {
		var id int64
		var blob []byte
		var label, username string
		if err := rows.Scan(&id, &blob, &label, &username); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		vector, err := embedding.DecodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", id, err)
		}

		g.Add(hnsw.MakeNode(id, []float32(vector)))
		idx.meta[id] = indexEntry{username: username, label: label}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return idx, nil
}

// Search returns up to k nearest enrolled templates with their cosine
// similarity to the query.
func (idx *IdentifyIndex) Search(query embedding.Vector, k int) []IdentifyMatch {
	if idx == nil || len(idx.meta) == 0 {
		return nil
	}

	neighbors := idx.graph.Search([]float32(query), k)
	matches := make([]IdentifyMatch, 0, len(neighbors))
	for _, n := range neighbors {
		entry, ok := idx.meta[n.Key]
		if !ok {
			continue
		}
		matches = append(matches, IdentifyMatch{
			Username:   entry.username,
			Label:      entry.label,
			Similarity: embedding.CosineSimilarity(query, embedding.Vector(n.Value)),
		})
	}
	return matches
}

// Count reports how many templates the index holds.
func (idx *IdentifyIndex) Count() int {
	if idx == nil {
		return 0
	}
	return len(idx.meta)
}
