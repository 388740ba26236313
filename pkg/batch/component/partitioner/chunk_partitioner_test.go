package partitioner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/serendip/pkg/batch/component/partitioner"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

func TestChunkPartitioner(t *testing.T) {
	items := []model.PlanItem{{Index: 4}, {Index: 0}, {Index: 2}, {Index: 1}, {Index: 3}}

	chunks := partitioner.NewChunkPartitioner(2).Partition(items)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].FirstIndex())
	assert.Equal(t, 1, chunks[0].LastIndex())
	assert.Equal(t, 2, chunks[2].ID)
	assert.Equal(t, 4, chunks[2].FirstIndex())
	assert.Equal(t, 4, chunks[2].LastIndex())
	assert.Equal(t, 4, items[0].Index, "input order is untouched")

	assert.Empty(t, partitioner.NewChunkPartitioner(10).Partition(nil))
	assert.Len(t, partitioner.NewChunkPartitioner(0).Partition(items), 5)
}
