// Package partitioner splits a plan into the contiguous chunks submitted as batch jobs.
package partitioner

import (
	"sort"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// Chunk is one contiguous run of plan items.
type Chunk struct {
	ID    int
	Items []model.PlanItem
}

// FirstIndex is the plan index of the first item.
func (c Chunk) FirstIndex() int {
	return c.Items[0].Index
}

// LastIndex is the plan index of the last item.
func (c Chunk) LastIndex() int {
	return c.Items[len(c.Items)-1].Index
}

// Keys returns the tracker keys of the chunk's items.
func (c Chunk) Keys() []model.ItemKey {
	keys := make([]model.ItemKey, len(c.Items))
	for i := range c.Items {
		keys[i] = c.Items[i].Key()
	}
	return keys
}

// ChunkPartitioner cuts plans into chunks of Size items.
type ChunkPartitioner struct {
	Size int
}

// NewChunkPartitioner creates a partitioner. A size below 1 is treated as 1.
func NewChunkPartitioner(size int) *ChunkPartitioner {
	if size < 1 {
		size = 1
	}
	return &ChunkPartitioner{Size: size}
}

// Partition orders items by index and cuts them into chunks numbered from 0.
// The input slice is not modified.
func (p *ChunkPartitioner) Partition(items []model.PlanItem) []Chunk {
	sorted := append([]model.PlanItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var chunks []Chunk
	for start := 0; start < len(sorted); start += p.Size {
		end := min(start+p.Size, len(sorted))
		chunks = append(chunks, Chunk{ID: len(chunks), Items: sorted[start:end]})
	}
	logger.Debugf("Partitioned %d items into %d chunks of up to %d.", len(items), len(chunks), p.Size)
	return chunks
}
