// Package merge combines stored entity collections with freshly fetched
// deltas. All functions are pure: no I/O, no shared state, safe to call
// from concurrent sync workers.
package merge

import (
	"sort"
	"time"

	"github.com/JohanCodinha/prcache/internal/models"
)

// Entity is any cached record with a stable identity and a freshness
// timestamp.
type Entity interface {
	Key() int64
	Fresh() time.Time
}

// byID merges delta items into existing items keyed by identity.
// A delta item only replaces a stored item when it is strictly fresher;
// otherwise the stored item wins, so a stale or out-of-order re-fetch can
// never regress the cache. Items absent from the delta are retained: a
// delta is additive, never a deletion signal.
func byID[T Entity](existing, delta []T) []T {
	merged := make(map[int64]T, len(existing)+len(delta))
	for _, item := range existing {
		merged[item.Key()] = item
	}
	for _, item := range delta {
		prev, ok := merged[item.Key()]
		if ok && !prev.Fresh().Before(item.Fresh()) {
			continue
		}
		merged[item.Key()] = item
	}

	out := make([]T, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	return out
}

// maxFresh returns the latest freshness timestamp in the collection, or
// the zero time for an empty collection.
func maxFresh[T Entity](items []T) time.Time {
	var max time.Time
	for _, item := range items {
		if f := item.Fresh(); f.After(max) {
			max = f
		}
	}
	return max
}

// PullRequests merges a PR delta, newest-numbered first.
func PullRequests(existing, delta []models.PullRequest) []models.PullRequest {
	out := byID(existing, delta)
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out
}

// Reviews merges a review delta for one pull request, ordered by id.
func Reviews(existing, delta []models.Review) []models.Review {
	out := byID(existing, delta)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Comments merges a comment delta for one pull request, ordered by id.
func Comments(existing, delta []models.Comment) []models.Comment {
	out := byID(existing, delta)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReviewComments merges a review comment delta for one pull request,
// ordered by id.
func ReviewComments(existing, delta []models.ReviewComment) []models.ReviewComment {
	out := byID(existing, delta)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Collections merges a full sync delta into the stored collections and
// returns the merged collections together with the maximum freshness
// timestamp observed across all four (zero if everything is empty).
// Merging is idempotent and commutes across deltas apart from the
// regression rule, so a resumed sync can safely re-apply a delta.
func Collections(existing, delta models.Collections) (models.Collections, time.Time) {
	out := models.NewCollections()
	out.PullRequests = PullRequests(existing.PullRequests, delta.PullRequests)

	for pr, items := range existing.Reviews {
		out.Reviews[pr] = items
	}
	for pr, items := range delta.Reviews {
		out.Reviews[pr] = Reviews(existing.Reviews[pr], items)
	}

	for pr, items := range existing.Comments {
		out.Comments[pr] = items
	}
	for pr, items := range delta.Comments {
		out.Comments[pr] = Comments(existing.Comments[pr], items)
	}

	for pr, items := range existing.ReviewComments {
		out.ReviewComments[pr] = items
	}
	for pr, items := range delta.ReviewComments {
		out.ReviewComments[pr] = ReviewComments(existing.ReviewComments[pr], items)
	}

	watermark := maxFresh(out.PullRequests)
	for _, items := range out.Reviews {
		if m := maxFresh(items); m.After(watermark) {
			watermark = m
		}
	}
	for _, items := range out.Comments {
		if m := maxFresh(items); m.After(watermark) {
			watermark = m
		}
	}
	for _, items := range out.ReviewComments {
		if m := maxFresh(items); m.After(watermark) {
			watermark = m
		}
	}

	return out, watermark
}
