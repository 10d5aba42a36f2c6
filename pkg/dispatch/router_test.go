package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

func testWorker(name string, wt contracts.WorkerType, specialties ...contracts.WorkerSpecialty) Worker {
	return Worker{
		ID:          uuid.New(),
		Name:        name,
		Type:        wt,
		Model:       "model-" + name,
		Specialties: specialties,
		Executor:    nil,
	}
}

func TestRouteMatchesMostSpecificSpecialist(t *testing.T) {
	registry := NewRegistry()
	generalist := testWorker("gen", contracts.WorkerGeneralist)
	kindMatch := testWorker("kind", contracts.WorkerSpecialist,
		contracts.WorkerSpecialty{Kind: contracts.SpecialtyTesting})
	tagMatch := testWorker("tag", contracts.WorkerSpecialist,
		contracts.WorkerSpecialty{Kind: contracts.SpecialtyTesting, Tags: []string{"testing", "go-test"}})
	require.NoError(t, registry.Register(generalist))
	require.NoError(t, registry.Register(kindMatch))
	require.NoError(t, registry.Register(tagMatch))

	router := NewRouter(registry)
	decision, picked, err := router.Route("T-1", []contracts.TaskSpec{{
		ID: uuid.New(), Title: "add tests", Priority: contracts.PriorityHigh,
		RequiredCapabilities: []string{"testing"},
	}})
	require.NoError(t, err)
	require.Len(t, decision.Assignments, 1)

	assert.Equal(t, contracts.WorkerSpecialist, decision.Assignments[0].WorkerType)
	assert.Equal(t, tagMatch.ID, picked[decision.Assignments[0].SubtaskID].ID,
		"tag match is more specific than kind match")
	assert.Contains(t, decision.Assignments[0].Reason, "specialist")
}

func TestRouteFallsBackToGeneralist(t *testing.T) {
	registry := NewRegistry()
	generalist := testWorker("gen", contracts.WorkerGeneralist)
	specialist := testWorker("doc", contracts.WorkerSpecialist,
		contracts.WorkerSpecialty{Kind: contracts.SpecialtyDocumentation})
	require.NoError(t, registry.Register(generalist))
	require.NoError(t, registry.Register(specialist))

	router := NewRouter(registry)
	_, picked, err := router.Route("T-2", []contracts.TaskSpec{{
		ID: uuid.New(), Title: "untagged work", Priority: contracts.PriorityLow,
		RequiredCapabilities: []string{"quantum-annealing"},
	}})
	require.NoError(t, err)
	for _, w := range picked {
		assert.Equal(t, generalist.ID, w.ID)
	}
}

func TestRouteTieBreaksLeastLoaded(t *testing.T) {
	registry := NewRegistry()
	busy := testWorker("busy", contracts.WorkerSpecialist,
		contracts.WorkerSpecialty{Kind: contracts.SpecialtyRefactoring})
	idle := testWorker("idle", contracts.WorkerSpecialist,
		contracts.WorkerSpecialty{Kind: contracts.SpecialtyRefactoring})
	require.NoError(t, registry.Register(busy))
	require.NoError(t, registry.Register(idle))
	registry.Acquire(busy.ID)
	registry.Acquire(busy.ID)

	router := NewRouter(registry)
	_, picked, err := router.Route("T-3", []contracts.TaskSpec{{
		ID: uuid.New(), Title: "refactor", Priority: contracts.PriorityMedium,
		RequiredCapabilities: []string{string(contracts.SpecialtyRefactoring)},
	}})
	require.NoError(t, err)
	for _, w := range picked {
		assert.Equal(t, idle.ID, w.ID)
	}
}

func TestRouteRoundRobinWithinLoadClass(t *testing.T) {
	registry := NewRegistry()
	a := testWorker("a", contracts.WorkerGeneralist)
	b := testWorker("b", contracts.WorkerGeneralist)
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))

	router := NewRouter(registry)
	seen := make(map[uuid.UUID]int)
	for i := 0; i < 4; i++ {
		_, picked, err := router.Route("T-4", []contracts.TaskSpec{{
			ID: uuid.New(), Title: "spread", Priority: contracts.PriorityLow,
		}})
		require.NoError(t, err)
		for _, w := range picked {
			seen[w.ID]++
		}
	}
	assert.Equal(t, 2, seen[a.ID])
	assert.Equal(t, 2, seen[b.ID])
}

func TestRouteSkipsDrainingWorkers(t *testing.T) {
	registry := NewRegistry()
	healthy := testWorker("healthy", contracts.WorkerGeneralist)
	sick := testWorker("sick", contracts.WorkerGeneralist)
	require.NoError(t, registry.Register(healthy))
	require.NoError(t, registry.Register(sick))
	for i := 0; i < 4; i++ {
		registry.Release(sick.ID, false)
	}
	st, ok := registry.Get(sick.ID)
	require.True(t, ok)
	require.Equal(t, HealthUnhealthy, st.Health)

	router := NewRouter(registry)
	for i := 0; i < 3; i++ {
		_, picked, err := router.Route("T-5", []contracts.TaskSpec{{
			ID: uuid.New(), Title: "work", Priority: contracts.PriorityLow,
		}})
		require.NoError(t, err)
		for _, w := range picked {
			assert.Equal(t, healthy.ID, w.ID, "unhealthy workers are drained")
		}
	}
}

func TestRouteNoWorkersIsDispatchFault(t *testing.T) {
	router := NewRouter(NewRegistry())
	_, _, err := router.Route("T-6", []contracts.TaskSpec{{
		ID: uuid.New(), Title: "nothing", Priority: contracts.PriorityLow,
	}})
	require.Error(t, err)
	assert.Equal(t, contracts.FaultDispatch, contracts.FaultKindOf(err))
}

func TestRegistryHealthLifecycle(t *testing.T) {
	registry := NewRegistry()
	w := testWorker("w", contracts.WorkerGeneralist)
	require.NoError(t, registry.Register(w))

	registry.Release(w.ID, false)
	registry.Release(w.ID, false)
	st, _ := registry.Get(w.ID)
	assert.Equal(t, HealthDegraded, st.Health)

	registry.Release(w.ID, true)
	st, _ = registry.Get(w.ID)
	assert.Equal(t, HealthHealthy, st.Health)
	assert.Zero(t, st.ConsecutiveFailures)

	registry.Probe(w.ID, false)
	st, _ = registry.Get(w.ID)
	assert.Equal(t, HealthOffline, st.Health)
	assert.True(t, st.Draining())

	registry.Probe(w.ID, true)
	st, _ = registry.Get(w.ID)
	assert.Equal(t, HealthHealthy, st.Health)
}

func TestRegistryStats(t *testing.T) {
	registry := NewRegistry()
	a := testWorker("a", contracts.WorkerGeneralist)
	b := testWorker("b", contracts.WorkerGeneralist)
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))
	registry.Acquire(a.ID)

	stats := registry.Stats()
	assert.Equal(t, 2, stats.TotalWorkers)
	assert.Equal(t, 1, stats.BusyWorkers)
	assert.Equal(t, 1, stats.AvailableWorkers)
}

func TestRegisterDuplicateFails(t *testing.T) {
	registry := NewRegistry()
	w := testWorker("w", contracts.WorkerGeneralist)
	require.NoError(t, registry.Register(w))
	assert.Error(t, registry.Register(w))
}
