// Package freshness is the single decision point for staleness: the
// sync orchestrator asks it for the effective fetch window and the
// results cache asks it whether a memoized entry is still valid.
// Keeping both rules here prevents the two call sites from drifting
// into inconsistent semantics.
package freshness

import (
	"time"

	"github.com/JohanCodinha/prcache/internal/models"
)

// TestWindow is how far back a test-mode sync reaches.
const TestWindow = 7 * 24 * time.Hour

// EffectiveSince returns the fetch-since timestamp for one repository.
// synced reports whether the repository has prior sync metadata; a zero
// return means "from the earliest available point".
//
//   - full: the stored watermark is ignored; only an explicit since
//     narrows the window.
//   - test: a fixed window of the last seven days, for fast verification.
//   - incremental: the stored watermark, or the explicit since if that
//     is later; with no prior metadata it degrades to full.
func EffectiveSince(meta models.RepoMetadata, synced bool, mode string, explicit, now time.Time) time.Time {
	switch mode {
	case models.ModeFull:
		return explicit
	case models.ModeTest:
		return now.Add(-TestWindow)
	default:
		if !synced {
			return explicit
		}
		since := meta.LastSyncAt
		if explicit.After(since) {
			since = explicit
		}
		return since
	}
}

// NextWatermark advances a repository watermark, clamped so it never
// regresses even if the remote reports timestamps behind the stored
// watermark (clock anomaly or an empty delta).
func NextWatermark(current, observed time.Time) time.Time {
	if observed.After(current) {
		return observed
	}
	return current
}

// Valid reports whether a results-cache entry with the given watermark
// is still fresh for every repository it covers: the entry is stale as
// soon as any covered repository has synced data newer than the
// watermark. Repositories without metadata have nothing newer by
// definition.
func Valid(watermark time.Time, repos []string, meta models.Metadata) bool {
	for _, repo := range repos {
		repoMeta, ok := meta.Repo(repo)
		if !ok {
			continue
		}
		if repoMeta.LastSyncAt.After(watermark) {
			return false
		}
	}
	return true
}
