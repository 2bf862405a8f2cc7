package docs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consumerdocs/domain/observation"
	appErrors "consumerdocs/pkg/errors"
)

var lastSeen = time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC)

func record(caller, method, path string, count int64, fields ...string) observation.Record {
	return observation.Record{
		ServiceName:    "my-api",
		Caller:         caller,
		Method:         method,
		PathTemplate:   path,
		CallCount:      count,
		FirstSeen:      lastSeen.Add(-24 * time.Hour),
		LastSeen:       lastSeen,
		RequestFields:  observation.NewStringSet(fields...),
		RequestHeaders: observation.NewStringSet("x-correlation-id"),
		ResponseCodes:  observation.NewStringSet("422", "200"),
	}
}

var sampleRecords = []observation.Record{
	record("checkout-service", "POST", "/api/orders", 1500, "user_id", "cart_id"),
	record("admin-ui", "GET", "/api/orders/{id}", 12),
	record("billing", "POST", "/api/orders", 1500, "user_id"),
	record("mobile", "POST", "/api/orders", 20),
}

type fakeStore struct {
	records []observation.Record
	err     error
	fetches int
}

func (s *fakeStore) WriteObservation(context.Context, *observation.AggregatedObservation) error {
	return nil
}

func (s *fakeStore) FetchServiceData(context.Context, string) ([]observation.Record, error) {
	s.fetches++
	return s.records, s.err
}

type mapCache struct {
	items map[string][]observation.Record
}

func (c *mapCache) Get(_ context.Context, svc string) ([]observation.Record, bool) {
	r, ok := c.items[svc]
	return r, ok
}

func (c *mapCache) Set(_ context.Context, svc string, records []observation.Record, _ time.Duration) {
	c.items[svc] = records
}

func (c *mapCache) Delete(_ context.Context, svc string) {
	delete(c.items, svc)
}

func TestTransform_Ordering(t *testing.T) {
	endpoints := Transform(sampleRecords)

	require.Len(t, endpoints, 2)
	assert.Equal(t, "GET /api/orders/{id}", endpoints[0].Name())
	assert.Equal(t, "POST /api/orders", endpoints[1].Name())

	callers := endpoints[1].Callers
	require.Len(t, callers, 3)
	assert.Equal(t, "billing", callers[0].Caller, "count ties break by caller name")
	assert.Equal(t, "checkout-service", callers[1].Caller)
	assert.Equal(t, "mobile", callers[2].Caller)
	assert.Equal(t, []string{"cart_id", "user_id"}, callers[1].RequestFields)
	assert.Equal(t, []string{"200", "422"}, callers[1].ResponseCodes)
	assert.Equal(t, []string{}, callers[2].QueryParams)
	assert.Equal(t, int64(3020), endpoints[1].TotalCalls())
}

func TestTransform_Empty(t *testing.T) {
	assert.Empty(t, Transform(nil))
}

func TestGenerateSection(t *testing.T) {
	section := GenerateSection("my-api", Transform(sampleRecords))

	assert.True(t, strings.HasPrefix(section, StartMarker))
	assert.True(t, strings.HasSuffix(section, EndMarker))
	for _, want := range []string{"my-api", "POST /api/orders", "checkout-service", "1500 calls", "`cart_id`", "`user_id`", "200, 422", "last seen 2026-02-21"} {
		assert.Contains(t, section, want)
	}
	assert.NotContains(t, section, "Query params", "empty lists are omitted")
}

func TestGenerateSection_NoEndpoints(t *testing.T) {
	section := GenerateSection("my-api", nil)

	assert.Contains(t, section, StartMarker)
	assert.Contains(t, section, EndMarker)
	assert.Contains(t, section, "No traffic has been recorded")
}

func TestUpdateFile_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "CLAUDE.md")

	require.NoError(t, UpdateFile(path, "content"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content\n", string(data))
}

func TestUpdateFile_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	require.NoError(t, os.WriteFile(path, []byte("# Existing content\n"), 0o644))

	require.NoError(t, UpdateFile(path, StartMarker+"\ngenerated\n"+EndMarker))

	data, _ := os.ReadFile(path)
	assert.Equal(t, "# Existing content\n\n"+StartMarker+"\ngenerated\n"+EndMarker+"\n", string(data))
}

func TestUpdateFile_ReplacesSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	original := "# Before\n\n" + StartMarker + "\nold content\n" + EndMarker + "\n\n# After\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	require.NoError(t, UpdateFile(path, StartMarker+"\nnew content\n"+EndMarker))

	data, _ := os.ReadFile(path)
	content := string(data)
	assert.Contains(t, content, "new content")
	assert.NotContains(t, content, "old content")
	assert.True(t, strings.HasPrefix(content, "# Before\n\n"))
	assert.True(t, strings.HasSuffix(content, EndMarker+"\n\n# After\n"))
}

func TestUpdateFile_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	section := GenerateSection("my-api", Transform(sampleRecords))

	require.NoError(t, UpdateFile(path, section))
	first, _ := os.ReadFile(path)
	require.NoError(t, UpdateFile(path, section))
	second, _ := os.ReadFile(path)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, strings.Count(string(second), StartMarker))
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(GenerateSection("my-api", Transform(sampleRecords)))

	require.NoError(t, err)
	assert.Contains(t, html, "<h2")
	assert.Contains(t, html, "<code>POST /api/orders</code>")
	assert.Contains(t, html, "<strong>checkout-service</strong>")
	assert.NotContains(t, html, StartMarker)
}

func TestService_SyncWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	svc := NewService(&fakeStore{records: sampleRecords}, nil, nil)

	result, err := svc.Sync(context.Background(), SyncOptions{ServiceName: "my-api", OutputPath: path})

	require.NoError(t, err)
	assert.True(t, result.Written)
	assert.Equal(t, 2, result.Endpoints)
	assert.Equal(t, 4, result.Records)
	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), StartMarker)
}

func TestService_SyncDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	svc := NewService(&fakeStore{records: sampleRecords}, nil, nil)

	result, err := svc.Sync(context.Background(), SyncOptions{ServiceName: "my-api", OutputPath: path, DryRun: true})

	require.NoError(t, err)
	assert.False(t, result.Written)
	assert.Contains(t, result.Section, "checkout-service")
	assert.NoFileExists(t, path)
}

func TestService_SyncNoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CLAUDE.md")
	svc := NewService(&fakeStore{}, nil, nil)

	result, err := svc.Sync(context.Background(), SyncOptions{ServiceName: "my-api", OutputPath: path})

	require.NoError(t, err)
	assert.Zero(t, result.Records)
	assert.False(t, result.Written)
	assert.NoFileExists(t, path)
}

func TestService_RecordsRequiresServiceName(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, nil)

	_, err := svc.Records(context.Background(), " ")

	assert.Error(t, err)
}

func TestService_RecordsTimeout(t *testing.T) {
	svc := NewService(&fakeStore{err: fmt.Errorf("query: %w", context.DeadlineExceeded)}, nil, nil)

	_, err := svc.Records(context.Background(), "my-api")

	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_RecordsStoreFailureIsUnavailable(t *testing.T) {
	svc := NewService(&fakeStore{err: errors.New("table unavailable")}, nil, nil)

	_, err := svc.Records(context.Background(), "my-api")

	require.Error(t, err)
	assert.True(t, appErrors.IsDatabase(err))
	assert.Equal(t, 503, appErrors.GetAppError(err).HTTPStatus)
}

func TestService_KnownRecords(t *testing.T) {
	empty := NewService(&fakeStore{}, nil, nil)
	_, err := empty.KnownRecords(context.Background(), "my-api")
	assert.True(t, appErrors.IsNotFound(err))

	_, err = empty.KnownEndpoints(context.Background(), "my-api")
	assert.True(t, appErrors.IsNotFound(err))

	svc := NewService(&fakeStore{records: sampleRecords}, nil, nil)
	endpoints, err := svc.KnownEndpoints(context.Background(), "my-api")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)
}

func TestService_RecordsUsesCache(t *testing.T) {
	store := &fakeStore{records: sampleRecords}
	svc := NewService(store, &mapCache{items: map[string][]observation.Record{}}, nil)

	for i := 0; i < 3; i++ {
		records, err := svc.Records(context.Background(), "my-api")
		require.NoError(t, err)
		assert.Len(t, records, 4)
	}
	assert.Equal(t, 1, store.fetches)
}

func TestService_HookSkipsWithoutService(t *testing.T) {
	store := &fakeStore{records: sampleRecords}
	svc := NewService(store, nil, nil)

	result, err := svc.Hook(context.Background(), HookOptions{})

	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, store.fetches)
}

func TestService_HookHonoursFreshStamp(t *testing.T) {
	dir := t.TempDir()
	stamp := filepath.Join(dir, ".claude", ".cc-last-sync")
	output := filepath.Join(dir, "CLAUDE.md")
	store := &fakeStore{records: sampleRecords}
	svc := NewService(store, nil, nil)
	now := lastSeen
	svc.now = func() time.Time { return now }

	opts := HookOptions{ServiceName: "my-api", OutputPath: output, StampPath: stamp, CacheMinutes: 60}

	first, err := svc.Hook(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.FileExists(t, stamp)
	assert.FileExists(t, output)

	now = now.Add(30 * time.Minute)
	second, err := svc.Hook(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	now = now.Add(31 * time.Minute)
	third, err := svc.Hook(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	assert.Equal(t, 2, store.fetches)
}

func TestService_HookCorruptStampSyncs(t *testing.T) {
	dir := t.TempDir()
	stamp := filepath.Join(dir, "stamp")
	require.NoError(t, os.WriteFile(stamp, []byte("not-a-number"), 0o644))
	store := &fakeStore{records: sampleRecords}
	svc := NewService(store, nil, nil)

	result, err := svc.Hook(context.Background(), HookOptions{
		ServiceName: "my-api", OutputPath: filepath.Join(dir, "CLAUDE.md"), StampPath: stamp, CacheMinutes: 60,
	})

	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, store.fetches)
}

func TestService_HookReportsStoreFailure(t *testing.T) {
	dir := t.TempDir()
	stamp := filepath.Join(dir, "stamp")
	svc := NewService(&fakeStore{err: errors.New("table unavailable")}, nil, nil)

	_, err := svc.Hook(context.Background(), HookOptions{ServiceName: "my-api", StampPath: stamp, OutputPath: filepath.Join(dir, "out.md")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "table unavailable")
	assert.NoFileExists(t, stamp, "a failed sync must not refresh the stamp")
}
