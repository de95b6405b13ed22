package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JohanCodinha/prcache/internal/models"
)

func TestEffectiveSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	watermark := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	explicit := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	laterExplicit := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		meta     models.RepoMetadata
		synced   bool
		mode     string
		explicit time.Time
		want     time.Time
	}{
		{
			name:   "incremental uses watermark",
			meta:   models.RepoMetadata{LastSyncAt: watermark},
			synced: true,
			mode:   models.ModeIncremental,
			want:   watermark,
		},
		{
			name:     "incremental prefers later explicit since",
			meta:     models.RepoMetadata{LastSyncAt: watermark},
			synced:   true,
			mode:     models.ModeIncremental,
			explicit: laterExplicit,
			want:     laterExplicit,
		},
		{
			name:     "incremental ignores earlier explicit since",
			meta:     models.RepoMetadata{LastSyncAt: watermark},
			synced:   true,
			mode:     models.ModeIncremental,
			explicit: explicit,
			want:     watermark,
		},
		{
			name:   "incremental without prior sync degrades to full",
			synced: false,
			mode:   models.ModeIncremental,
			want:   time.Time{},
		},
		{
			name:     "full ignores watermark",
			meta:     models.RepoMetadata{LastSyncAt: watermark},
			synced:   true,
			mode:     models.ModeFull,
			explicit: explicit,
			want:     explicit,
		},
		{
			name:   "full without explicit since fetches everything",
			meta:   models.RepoMetadata{LastSyncAt: watermark},
			synced: true,
			mode:   models.ModeFull,
			want:   time.Time{},
		},
		{
			name:   "test mode uses fixed recent window",
			meta:   models.RepoMetadata{LastSyncAt: watermark},
			synced: true,
			mode:   models.ModeTest,
			want:   now.Add(-TestWindow),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveSince(tt.meta, tt.synced, tt.mode, tt.explicit, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextWatermark(t *testing.T) {
	earlier := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	assert.Equal(t, later, NextWatermark(earlier, later), "watermark advances")
	assert.Equal(t, later, NextWatermark(later, earlier), "watermark never regresses")
	assert.Equal(t, later, NextWatermark(later, time.Time{}), "empty delta keeps the watermark")
	assert.Equal(t, later, NextWatermark(later, later), "equal timestamps keep the watermark")
}

func TestValid(t *testing.T) {
	watermark := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	meta := models.NewMetadata()
	meta.Repositories["org/stale"] = models.RepoMetadata{LastSyncAt: watermark.Add(time.Minute)}
	meta.Repositories["org/fresh"] = models.RepoMetadata{LastSyncAt: watermark.Add(-time.Minute)}
	meta.Repositories["org/exact"] = models.RepoMetadata{LastSyncAt: watermark}

	tests := []struct {
		name  string
		repos []string
		want  bool
	}{
		{name: "all covered repos at or behind watermark", repos: []string{"org/fresh", "org/exact"}, want: true},
		{name: "one repo synced past the watermark", repos: []string{"org/fresh", "org/stale"}, want: false},
		{name: "unknown repo has nothing newer", repos: []string{"org/unknown"}, want: true},
		{name: "no repos", repos: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(watermark, tt.repos, meta))
		})
	}
}
