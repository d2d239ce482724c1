package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportDoc struct {
	Taken  int     `json:"taken"`
	Missed int     `json:"missed"`
	Rate   float64 `json:"rate"`
}

func TestCacheGetMiss(t *testing.T) {
	client, _ := testClient(t)
	cache := NewCache(client, time.Minute, nil)

	var doc reportDoc
	err := cache.Get(context.Background(), "absent", &doc)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheSetThenGet(t *testing.T) {
	client, _ := testClient(t)
	cache := NewCache(client, time.Minute, nil)
	ctx := context.Background()

	want := reportDoc{Taken: 5, Missed: 1, Rate: 5.0 / 6.0}
	require.NoError(t, cache.Set(ctx, "report:alice:7", want))

	var got reportDoc
	require.NoError(t, cache.Get(ctx, "report:alice:7", &got))
	assert.Equal(t, want, got)
}

func TestCacheEntriesExpire(t *testing.T) {
	client, mr := testClient(t)
	cache := NewCache(client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "report:alice:7", reportDoc{Taken: 1}))

	mr.FastForward(2 * time.Minute)

	var doc reportDoc
	err := cache.Get(ctx, "report:alice:7", &doc)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheDeleteMissingKeyIsFine(t *testing.T) {
	client, _ := testClient(t)
	cache := NewCache(client, time.Minute, nil)

	assert.NoError(t, cache.Delete(context.Background(), "never-set"))
}

func TestGetOrSetLoadsOnceAcrossCallers(t *testing.T) {
	client, _ := testClient(t)
	cache := NewCache(client, time.Minute, nil)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(context.Context) (interface{}, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return reportDoc{Taken: 3, Missed: 1, Rate: 0.75}, nil
	}

	var wg sync.WaitGroup
	results := make([]reportDoc, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, cache.GetOrSet(ctx, "report:bob:7", &results[i], loader))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 3, r.Taken)
	}

	// A later call is served from the cache.
	var again reportDoc
	require.NoError(t, cache.GetOrSet(ctx, "report:bob:7", &again, loader))
	assert.Equal(t, int32(1), calls.Load())
}
