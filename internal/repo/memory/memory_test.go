package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/repo"
	"github.com/wayfare-ai/llmgateway/internal/routing"
)

func TestModelRepo_MappingLookup(t *testing.T) {
	r := NewModelRepo(
		[]routing.ModelMapping{{RequestedModel: "gpt-4o", Strategy: routing.Priority, IsActive: true}},
		[]routing.ProviderMapping{
			{ID: 2, RequestedModel: "gpt-4o", ProviderID: 1, TargetModel: "b", Priority: 1, IsActive: true},
			{ID: 1, RequestedModel: "gpt-4o", ProviderID: 1, TargetModel: "a", Priority: 0, IsActive: true},
			{ID: 3, RequestedModel: "gpt-4o", ProviderID: 2, TargetModel: "c", Priority: 0, IsActive: false},
		},
	)

	m, err := r.GetMapping(context.Background(), "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, routing.Priority, m.Strategy)

	missing, err := r.GetMapping(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := r.GetProviderMappings(context.Background(), "gpt-4o", true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// Sorted by (priority, id), inactive filtered out.
	assert.Equal(t, "a", active[0].TargetModel)
	assert.Equal(t, "b", active[1].TargetModel)

	all, err := r.GetProviderMappings(context.Background(), "gpt-4o", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestProviderRepo_GetByID(t *testing.T) {
	r := NewProviderRepo([]routing.Provider{{ID: 7, Name: "p7", IsActive: true}})

	p, err := r.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p7", p.Name)

	missing, err := r.GetByID(context.Background(), 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLogRepo_CapacityEviction(t *testing.T) {
	r := NewLogRepo(2)
	for _, model := range []string{"a", "b", "c"} {
		require.NoError(t, r.Create(context.Background(), repo.RequestLog{RequestedModel: model}))
	}
	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].RequestedModel)
	assert.Equal(t, "c", entries[1].RequestedModel)
}

func TestLogRepo_AcceptsRecordWithoutModel(t *testing.T) {
	r := NewLogRepo(0)
	require.NoError(t, r.Create(context.Background(), repo.RequestLog{ResponseStatus: 400}))
	assert.Len(t, r.Entries(), 1)
}
