package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("scheduler", func(ctx context.Context) Status {
		return Pass("scheduler")
	})
	r.Register("database", func(ctx context.Context) Status {
		return Pass("database")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "scheduler", statuses[0].Name)
	assert.Empty(t, statuses[0].Detail)
}

func TestRegistry_OneFailureDegradesAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Fail("database", "connection refused")
	})
	r.Register("scheduler", func(ctx context.Context) Status {
		return Pass("scheduler")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "connection refused", statuses[0].Detail)
	assert.True(t, statuses[1].Healthy)
}

func TestRegistry_StatusesKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"scheduler", "database", "notifier"}
	for _, name := range names {
		name := name
		r.Register(name, func(ctx context.Context) Status { return Pass(name) })
	}

	for i := 0; i < 3; i++ {
		_, statuses := r.CheckAll(context.Background())
		require.Len(t, statuses, len(names))
		for j, name := range names {
			assert.Equal(t, name, statuses[j].Name)
		}
	}
}

func TestRegistry_EmptyIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}
