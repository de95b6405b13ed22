package results

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohanCodinha/prcache/internal/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	c, err := Open(t.TempDir())
	require.NoError(t, err, "failed to open test results cache")
	t.Cleanup(func() { c.Close() })
	return c
}

func metadataWith(repos map[string]time.Time) models.Metadata {
	meta := models.NewMetadata()
	for repo, syncedAt := range repos {
		meta.Repositories[repo] = models.RepoMetadata{LastSyncAt: syncedAt}
	}
	return meta
}

func TestGet_MissOnEmptyCache(t *testing.T) {
	c := newTestCache(t)

	_, hit, err := c.Get(Params{Repositories: []string{"org/a"}}, models.NewMetadata())
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	params := Params{Repositories: []string{"org/a"}, Since: "2024-01-01"}
	payload := []byte(`{"total_prs": 42}`)

	require.NoError(t, c.Put(params, payload, watermark))

	meta := metadataWith(map[string]time.Time{"org/a": watermark})
	got, hit, err := c.Get(params, meta)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload, got)
}

func TestGet_StaleAfterNewerSync(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	params := Params{Repositories: []string{"org/a", "org/b"}}

	require.NoError(t, c.Put(params, []byte("payload"), watermark))

	// org/b syncs past the entry's watermark: the entry turns stale
	// even though org/a is unchanged.
	meta := metadataWith(map[string]time.Time{
		"org/a": watermark,
		"org/b": watermark.Add(time.Minute),
	})
	_, hit, err := c.Get(params, meta)
	require.NoError(t, err)
	assert.False(t, hit, "entry must be invalid once any covered repo has newer data")
}

func TestGet_ValidWhenUncoveredRepoSyncs(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	params := Params{Repositories: []string{"org/a"}}

	require.NoError(t, c.Put(params, []byte("payload"), watermark))

	// A sync of some unrelated repository must not invalidate this entry.
	meta := metadataWith(map[string]time.Time{
		"org/a":     watermark,
		"org/other": watermark.Add(time.Hour),
	})
	_, hit, err := c.Get(params, meta)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestPut_ReplacesWholeEntry(t *testing.T) {
	c := newTestCache(t)
	params := Params{Repositories: []string{"org/a"}}
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	require.NoError(t, c.Put(params, []byte("first"), t0))
	require.NoError(t, c.Put(params, []byte("second"), t1))

	meta := metadataWith(map[string]time.Time{"org/a": t1})
	got, hit, err := c.Get(params, meta)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("second"), got)

	entries, _, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, entries, "replacement must not leave a second row")
}

func TestClear_SingleEntry(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	keep := Params{Repositories: []string{"org/keep"}}
	drop := Params{Repositories: []string{"org/drop"}}

	require.NoError(t, c.Put(keep, []byte("kept"), watermark))
	require.NoError(t, c.Put(drop, []byte("dropped"), watermark))

	require.NoError(t, c.Clear(drop))
	// Clearing an entry that is already gone is fine.
	require.NoError(t, c.Clear(drop))

	meta := metadataWith(map[string]time.Time{"org/keep": watermark})
	_, hit, err := c.Get(keep, meta)
	require.NoError(t, err)
	assert.True(t, hit)

	entries, _, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
}

func TestClearAll(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(Params{Repositories: []string{"org/a"}}, []byte("a"), watermark))
	require.NoError(t, c.Put(Params{Repositories: []string{"org/b"}}, []byte("b"), watermark))

	require.NoError(t, c.ClearAll())

	entries, payloadBytes, err := c.Info()
	require.NoError(t, err)
	assert.Zero(t, entries)
	assert.Zero(t, payloadBytes)
}

func TestInfo(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(Params{Repositories: []string{"org/a"}}, []byte("12345"), watermark))
	require.NoError(t, c.Put(Params{Repositories: []string{"org/b"}}, []byte("123"), watermark))

	entries, payloadBytes, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(8), payloadBytes)
}

func TestPruneOlderThan(t *testing.T) {
	c := newTestCache(t)
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(Params{Repositories: []string{"org/a"}}, []byte("a"), watermark))
	require.NoError(t, c.Put(Params{Repositories: []string{"org/b"}}, []byte("b"), watermark))

	// Entries were just written, so a 30 day cutoff keeps them.
	removed, err := c.PruneOlderThan(30*24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A cutoff in the future removes everything.
	removed, err = c.PruneOlderThan(time.Hour, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, _, err := c.Info()
	require.NoError(t, err)
	assert.Zero(t, entries)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	watermark := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	params := Params{Repositories: []string{"org/a"}}

	first, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(params, []byte("durable"), watermark))
	require.NoError(t, first.Close())

	second, err := Open(dir)
	require.NoError(t, err)
	defer second.Close()

	meta := metadataWith(map[string]time.Time{"org/a": watermark})
	got, hit, err := second.Get(params, meta)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("durable"), got)
}
