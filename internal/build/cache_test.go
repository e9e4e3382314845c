package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/types"
)

func component(spec, code string) *types.Resource {
	return &types.Resource{Type: types.ResourceComponent, Specifier: spec, Code: code, Success: true}
}

func countingCompute(calls *int32, res *types.Resource) ComputeFunc {
	return func(context.Context) (*types.Resource, error) {
		atomic.AddInt32(calls, 1)
		return res, nil
	}
}

func TestModuleCache_HitSkipsCompute(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 1}

	var calls int32
	compute := countingCompute(&calls, component("c/moduleA", "export default 1;"))

	first, err := cache.GetOrCompile(ctx, key, compute)
	require.NoError(t, err)
	second, err := cache.GetOrCompile(ctx, key, compute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Same(t, first, second)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Compiles)
	assert.Equal(t, 1, stats.Entries)
}

func TestModuleCache_FingerprintReplacesSlot(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 1}

	var calls int32
	_, err := cache.GetOrCompile(ctx, key, countingCompute(&calls, component("c/moduleA", "v1")))
	require.NoError(t, err)

	key.Fingerprint = 2
	res, err := cache.GetOrCompile(ctx, key, countingCompute(&calls, component("c/moduleA", "v2")))
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls)
	assert.Equal(t, "v2", res.Code)
	assert.Equal(t, 1, cache.Len())
}

func TestModuleCache_KeyDimensions(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()

	var calls int32
	compute := countingCompute(&calls, component("@salesforce/label/c.greeting", "x"))
	for _, key := range []Key{
		{Specifier: "@salesforce/label/c.greeting", Mode: types.ModeDev, Locale: "en"},
		{Specifier: "@salesforce/label/c.greeting", Mode: types.ModeProd, Locale: "en"},
		{Specifier: "@salesforce/label/c.greeting", Mode: types.ModeDev, Locale: "fr"},
	} {
		_, err := cache.GetOrCompile(ctx, key, compute)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls)
	assert.Equal(t, 3, cache.Len())
}

func TestModuleCache_SilentCompilerNotStored(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en"}

	var calls int32
	compute := countingCompute(&calls, nil)

	res, err := cache.GetOrCompile(ctx, key, compute)
	require.NoError(t, err)

	want := &types.Resource{
		Type:      types.ResourceComponent,
		Specifier: "c/moduleA",
		Success:   false,
		Diagnostics: []lderrors.Diagnostic{{
			Code:    -1,
			Message: "Compiler output undefined or null",
			Level:   lderrors.ErrorSeverityFatal,
		}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("silent compile result mismatch (-want +got):\n%s", diff)
	}

	_, err = cache.GetOrCompile(ctx, key, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, 0, cache.Len())
}

func TestModuleCache_ErrorsNotStored(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en"}
	boom := errors.New("compiler crashed")

	_, err := cache.GetOrCompile(context.Background(), key, func(context.Context) (*types.Resource, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestModuleCache_ConcurrentCallersShareCompile(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 7}

	release := make(chan struct{})
	var calls int32
	compute := func(context.Context) (*types.Resource, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return component("c/moduleA", "shared"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*types.Resource, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cache.GetOrCompile(context.Background(), key, compute)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, "shared", res.Code)
	}
}

func TestModuleCache_Artifacts(t *testing.T) {
	dir := t.TempDir()
	artifacts := func(key Key) (string, bool) {
		if key.Mode != types.ModeDev {
			return "", false
		}
		return filepath.Join(dir, key.Specifier+".js"), true
	}
	cache := NewModuleCache(artifacts, logging.NewTestLogger())
	ctx := context.Background()
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 1}
	file := filepath.Join(dir, "c", "moduleA.js")

	t.Run("success writes the artifact", func(t *testing.T) {
		_, err := cache.GetOrCompile(ctx, key, countingCompute(new(int32), component("c/moduleA", "export default 1;")))
		require.NoError(t, err)

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Equal(t, "export default 1;", string(data))
	})

	t.Run("failure removes the artifact", func(t *testing.T) {
		key := key
		key.Fingerprint = 2
		_, err := cache.GetOrCompile(ctx, key, countingCompute(new(int32), types.Failure("c/moduleA")))
		require.NoError(t, err)

		assert.NoFileExists(t, file)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("invalidate removes entry and artifact", func(t *testing.T) {
		key := key
		key.Fingerprint = 3
		_, err := cache.GetOrCompile(ctx, key, countingCompute(new(int32), component("c/moduleA", "v3")))
		require.NoError(t, err)
		require.FileExists(t, file)

		assert.True(t, cache.Invalidate(key))
		assert.NoFileExists(t, file)
		assert.Equal(t, 0, cache.Len())
		assert.False(t, cache.Invalidate(key))
	})

	t.Run("prod keys have no artifact", func(t *testing.T) {
		key := Key{Specifier: "c/moduleA", Mode: types.ModeProd, Locale: "en"}
		_, err := cache.GetOrCompile(ctx, key, countingCompute(new(int32), component("c/moduleA", "prod")))
		require.NoError(t, err)
		assert.NoFileExists(t, file)
	})
}

func TestModuleCache_InvalidateWhereAndClear(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()

	for _, spec := range []string{"c/a", "c/b", "@salesforce/label/c.x"} {
		_, err := cache.GetOrCompile(ctx, Key{Specifier: spec, Mode: types.ModeDev, Locale: "en"},
			countingCompute(new(int32), component(spec, spec)))
		require.NoError(t, err)
	}

	removed := cache.InvalidateWhere(func(k Key) bool { return k.Specifier == "c/a" || k.Specifier == "c/b" })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestModuleCache_InvalidateDuringCompileDiscardsResult(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en"}

	res, err := cache.GetOrCompile(context.Background(), key, func(context.Context) (*types.Resource, error) {
		cache.Clear()
		return component("c/moduleA", "stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", res.Code)
	assert.Equal(t, 0, cache.Len())
}

func TestModuleCache_InvalidationIsPerSlot(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()
	moduleA := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en"}
	moduleB := Key{Specifier: "c/moduleB", Mode: types.ModeDev, Locale: "en"}

	_, err := cache.GetOrCompile(ctx, moduleB, countingCompute(new(int32), component("c/moduleB", "b")))
	require.NoError(t, err)

	var calls int32
	compute := func(context.Context) (*types.Resource, error) {
		atomic.AddInt32(&calls, 1)
		cache.Invalidate(moduleB)
		return component("c/moduleA", "a"), nil
	}

	_, err = cache.GetOrCompile(ctx, moduleA, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompile(ctx, moduleA, compute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, 1, cache.Len())
}

func TestModuleCache_InvalidateInflightSlotDiscardsResult(t *testing.T) {
	cache := NewModuleCache(nil, logging.NewTestLogger())
	ctx := context.Background()
	key := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 7}

	res, err := cache.GetOrCompile(ctx, key, func(context.Context) (*types.Resource, error) {
		removed := cache.InvalidateWhere(func(k Key) bool { return k.Specifier == "c/moduleA" })
		assert.Zero(t, removed)
		return component("c/moduleA", "stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", res.Code)
	assert.Equal(t, 0, cache.Len())

	var calls int32
	_, err = cache.GetOrCompile(ctx, key, countingCompute(&calls, component("c/moduleA", "fresh")))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, 1, cache.Len())
}

func TestKeyIdentity(t *testing.T) {
	a := Key{Specifier: "c/moduleA", Mode: types.ModeDev, Locale: "en", Fingerprint: 1}
	b := a
	b.Fingerprint = 2

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.String(), b.String())
}
