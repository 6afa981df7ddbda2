package identity

import (
	"sync"

	"github.com/coder/hnsw"

	"faceattend/internal/recognizer"
)

const indexMaxNeighbors = 16

// Index is an in-memory HNSW graph over enrolled embeddings, keyed by person
// id. HNSW has no true deletion, so removed ids are dropped from the side
// map and filtered out of search results.
type Index struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[string]
	embeddings map[string][]float32
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{embeddings: make(map[string][]float32)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given people.
func (ix *Index) Build(people []Person) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	g := newGraph()
	ix.embeddings = make(map[string][]float32, len(people))
	for _, p := range people {
		if len(p.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(p.ID, p.Embedding))
		ix.embeddings[p.ID] = p.Embedding
	}
	ix.graph = g
}

// Add inserts one person's embedding.
func (ix *Index) Add(id string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.graph == nil {
		ix.graph = newGraph()
	}
	ix.graph.Add(hnsw.MakeNode(id, embedding))
	ix.embeddings[id] = embedding
}

// Remove drops a person from search results.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.embeddings, id)
}

// Len returns the number of searchable entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.embeddings)
}

// Nearest returns the best match for the query embedding. The similarity is
// recomputed exactly against the stored embedding; the graph only narrows
// the candidates.
func (ix *Index) Nearest(query []float32) (Match, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || len(ix.embeddings) == 0 || len(query) == 0 {
		return Match{}, false
	}

	neighbors := ix.graph.Search(query, indexMaxNeighbors)
	best := Match{Confidence: -1}
	found := false
	for _, n := range neighbors {
		stored, ok := ix.embeddings[n.Key]
		if !ok {
			continue // removed after being indexed
		}
		sim := recognizer.Cosine(query, stored)
		if !found || sim > best.Confidence {
			best = Match{PersonID: n.Key, Confidence: sim}
			found = true
		}
	}
	return best, found
}
