package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/conneroisu/localdev/internal/compiler"
	"github.com/conneroisu/localdev/internal/compiler/mocks"
	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/types"
)

func labelsXML(entries ...[3]string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<CustomLabels xmlns="http://soap.sforce.com/2006/04/metadata">` + "\n"
	for _, e := range entries {
		doc += "    <labels>\n" +
			"        <fullName>" + e[0] + "</fullName>\n" +
			"        <language>" + e[1] + "</language>\n" +
			"        <protected>true</protected>\n" +
			"        <value>" + e[2] + "</value>\n" +
			"    </labels>\n"
	}
	return doc + "</CustomLabels>\n"
}

func newLabels(t *testing.T, c compiler.Compiler, content string) (*LabelsService, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels", "CustomLabels.labels-meta.xml")
	writeFile(t, path, content)

	svc := NewLabelsService(LabelsOptions{Path: path, Explicit: true, DefaultLocale: "en"}, c, logging.NewTestLogger())
	require.NoError(t, svc.Initialize(context.Background()))
	t.Cleanup(func() { svc.Close() })
	return svc, path
}

var dev = types.Params{Mode: types.ModeDev, Locale: "en"}

func TestLabels_CompilesOncePerKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockCompiler(ctrl)
	mock.EXPECT().
		Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req compiler.Request) (*compiler.Output, error) {
			assert.Equal(t, "c.greeting", req.Name)
			assert.Equal(t, map[string]string{"c.greeting.js": `export default "Hello";`}, req.Files)
			return echo(req), nil
		}).
		Times(1)

	svc, _ := newLabels(t, mock, labelsXML([3]string{"greeting", "en_US", "Hello"}))
	ctx := context.Background()

	first, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)
	second, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second request differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, types.ResourceComponent, first.Type)
	assert.Equal(t, "@salesforce/label/c.greeting", first.Specifier)
	assert.Equal(t, int64(1), svc.CacheStats().Hits)
}

func TestLabels_ReloadDropsCompiledLabels(t *testing.T) {
	var compiles int32
	counting := compiler.Func(func(ctx context.Context, req compiler.Request) (*compiler.Output, error) {
		atomic.AddInt32(&compiles, 1)
		return echo(req), nil
	})

	content := labelsXML([3]string{"greeting", "en", "Hello"})
	svc, _ := newLabels(t, counting, content)
	ctx := context.Background()

	var reloads int32
	svc.OnReload(func(context.Context) { atomic.AddInt32(&reloads, 1) })

	_, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)

	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, LabelsLoaded, svc.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&reloads))

	res, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)
	assert.Equal(t, `export default "Hello";`, res.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&compiles), "same value must still recompile after a reload")
}

func TestLabels_ReloadWithOtherRootClearsLabels(t *testing.T) {
	svc, path := newLabels(t, echoCompiler, labelsXML([3]string{"greeting", "en", "Hello"}))
	ctx := context.Background()

	res, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)
	assert.Equal(t, `export default "Hello";`, res.Code)

	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>`+"\n<Package/>\n"), 0o644))
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, LabelsLoaded, svc.State())

	res, err = svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)
	assert.Equal(t, `export default "[c.greeting]";`, res.Code)
}

func TestLabels_FileChangeReloads(t *testing.T) {
	svc, path := newLabels(t, echoCompiler, labelsXML([3]string{"greeting", "en", "Hello"}))
	ctx := context.Background()

	var reloads int32
	svc.OnReload(func(context.Context) { atomic.AddInt32(&reloads, 1) })

	res, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
	require.NoError(t, err)
	assert.Equal(t, `export default "Hello";`, res.Code)

	require.NoError(t, os.WriteFile(path, []byte(labelsXML([3]string{"greeting", "en", "Howdy"})), 0o644))

	require.Eventually(t, func() bool {
		res, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
		return err == nil && res.Code == `export default "Howdy";`
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&reloads), int32(1))
}

func TestLabels_LocaleFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("en only", func(t *testing.T) {
		svc, _ := newLabels(t, echoCompiler, labelsXML([3]string{"greeting", "en", "Hello"}))
		for _, locale := range []string{"en_US", "fr_FR"} {
			res, err := svc.Request(ctx, "@salesforce/label/c.greeting", types.Params{Mode: types.ModeDev, Locale: locale})
			require.NoError(t, err)
			assert.Equal(t, `export default "Hello";`, res.Code, locale)
		}
	})

	t.Run("fr and en", func(t *testing.T) {
		svc, _ := newLabels(t, echoCompiler, labelsXML(
			[3]string{"greeting", "en", "Hello"},
			[3]string{"greeting", "fr", "Bonjour"},
		))
		res, err := svc.Request(ctx, "@salesforce/label/c.greeting", types.Params{Mode: types.ModeDev, Locale: "fr_CA"})
		require.NoError(t, err)
		assert.Equal(t, `export default "Bonjour";`, res.Code)
	})

	t.Run("missing locale uses the default", func(t *testing.T) {
		svc, _ := newLabels(t, echoCompiler, labelsXML([3]string{"greeting", "en", "Hello"}))
		res, err := svc.Request(ctx, "@salesforce/label/c.greeting", types.Params{Mode: types.ModeDev})
		require.NoError(t, err)
		assert.Equal(t, `export default "Hello";`, res.Code)
	})
}

func TestLabels_UnknownLabelStub(t *testing.T) {
	svc, _ := newLabels(t, echoCompiler, labelsXML([3]string{"greeting", "en", "Hello"}))

	res, err := svc.Request(context.Background(), "@salesforce/label/c.doesNotExist", dev)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, `export default "[c.doesNotExist]";`, res.Code)
}

func TestLabels_LocaleRequired(t *testing.T) {
	svc := NewLabelsService(LabelsOptions{}, echoCompiler, logging.NewTestLogger())
	require.NoError(t, svc.Initialize(context.Background()))

	res, err := svc.Request(context.Background(), "@salesforce/label/c.greeting", types.Params{Mode: types.ModeDev})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, MessageLocaleRequired, res.Diagnostics[0].Message)
}

func TestLabels_SectionRequest(t *testing.T) {
	svc, _ := newLabels(t, echoCompiler, labelsXML(
		[3]string{"greeting", "en", "Hello"},
		[3]string{"farewell", "en", "Bye"},
	))

	for _, spec := range []string{"@salesforce/label/c.*", "@salesforce/label/"} {
		res, err := svc.Request(context.Background(), spec, dev)
		require.NoError(t, err)
		assert.Equal(t, types.ResourceJSON, res.Type)

		var modules map[string]string
		require.NoError(t, json.Unmarshal([]byte(res.Code), &modules))
		assert.Equal(t, map[string]string{
			"@salesforce/label/c.farewell": `export default "Bye";`,
			"@salesforce/label/c.greeting": `export default "Hello";`,
		}, modules)
		assert.Equal(t, []string{"@salesforce/label/c.farewell", "@salesforce/label/c.greeting"}, res.Metadata.Dependencies)
	}
}

func TestLabels_Initialize(t *testing.T) {
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "CustomLabels.labels-meta.xml")

	t.Run("explicit missing file fails startup", func(t *testing.T) {
		svc := NewLabelsService(LabelsOptions{Path: missing, Explicit: true, DefaultLocale: "en"}, echoCompiler, logging.NewTestLogger())
		err := svc.Initialize(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLabelsFileMissing))

		var cfgErr *lderrors.ConfigError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, LabelsUninitialized, svc.State())
	})

	t.Run("implicit missing file means no labels", func(t *testing.T) {
		svc := NewLabelsService(LabelsOptions{Path: missing, DefaultLocale: "en"}, echoCompiler, logging.NewTestLogger())
		require.NoError(t, svc.Initialize(ctx))
		assert.Equal(t, LabelsLoaded, svc.State())
		assert.NoError(t, svc.Close())

		res, err := svc.Request(ctx, "@salesforce/label/c.greeting", dev)
		require.NoError(t, err)
		assert.Equal(t, `export default "[c.greeting]";`, res.Code)
	})

	t.Run("file without labels is empty, not an error", func(t *testing.T) {
		svc, _ := newLabels(t, echoCompiler, `<CustomLabels xmlns="http://soap.sforce.com/2006/04/metadata"/>`)
		assert.Equal(t, LabelsLoaded, svc.State())
	})
}
