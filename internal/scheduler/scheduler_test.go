package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddJob(t *testing.T) {
	s := NewScheduler(context.Background())
	assert.NoError(t, s.AddJob("*/5 * * * *", "refresh", func(context.Context) {}))
	assert.NoError(t, s.AddJob("@hourly", "hourly", func(context.Context) {}))
	assert.Error(t, s.AddJob("every now and then", "bad", func(context.Context) {}))
	assert.Error(t, s.AddJob("0 0 * * * *", "six fields", func(context.Context) {}))
}

func TestScheduler_RunsJobWithContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "agriai")
	s := NewScheduler(ctx)

	got := make(chan any, 1)
	require.NoError(t, s.AddJob("@every 10ms", "probe", func(ctx context.Context) {
		select {
		case got <- ctx.Value(key{}):
		default:
		}
	}))
	s.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(stopCtx)
	}()

	select {
	case v := <-got:
		assert.Equal(t, "agriai", v)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}
