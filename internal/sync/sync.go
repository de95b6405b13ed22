// Package sync drives incremental synchronization of remote pull
// request data into the local entity store.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/JohanCodinha/prcache/internal/cache"
	"github.com/JohanCodinha/prcache/internal/freshness"
	"github.com/JohanCodinha/prcache/internal/github"
	"github.com/JohanCodinha/prcache/internal/merge"
	"github.com/JohanCodinha/prcache/internal/models"
	"github.com/JohanCodinha/prcache/pkg/logger"
)

// testPRLimit caps fetched pull requests per repository in test mode.
const testPRLimit = 5

// RemoteSource is the remote data source the orchestrator fetches from.
type RemoteSource interface {
	ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]models.PullRequest, error)
	ListReviews(ctx context.Context, owner, name string, number int) ([]models.Review, error)
	ListComments(ctx context.Context, owner, name string, number int) ([]models.Comment, error)
	ListReviewComments(ctx context.Context, owner, name string, number int) ([]models.ReviewComment, error)
}

// Options configures one sync invocation.
type Options struct {
	Mode  string    // incremental (default), full or test
	Since time.Time // explicit lower bound, optional
	Limit int       // per-repo PR cap; 0 means unlimited (test mode defaults to 5)
}

// Outcome is the result of syncing one repository. Err is nil on
// success.
type Outcome struct {
	Repo           string
	Since          time.Time
	FetchedPRs     int
	MergedPRs      int
	Reviews        int
	Comments       int
	ReviewComments int
	Err            error
}

// Report aggregates the per-repository outcomes of one sync run.
// Partial failures live in the outcomes; only batch-fatal conditions
// are returned as an error by Sync.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Succeeded returns how many repositories synced cleanly.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns how many repositories failed.
func (r Report) Failed() int { return len(r.Outcomes) - r.Succeeded() }

// Orchestrator owns one sync invocation end to end: window selection,
// fetching, merging and committing, one repository per worker.
type Orchestrator struct {
	store   *cache.Store
	remote  RemoteSource
	retrier *Retrier
	workers int
	now     func() time.Time
}

// New creates an orchestrator with the default worker count.
func New(store *cache.Store, remote RemoteSource) *Orchestrator {
	return &Orchestrator{
		store:   store,
		remote:  remote,
		retrier: NewRetrier(),
		workers: 4,
		now:     time.Now,
	}
}

// SetWorkers sets the number of parallel repository workers, clamped to
// a range that will not overwhelm the API.
func (o *Orchestrator) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10
	}
	o.workers = workers
}

// Sync synchronizes the given repositories. Each repository is fetched,
// merged and committed independently; one repository's failure never
// rolls back another's committed progress. The returned error is
// non-nil only for batch-fatal conditions (rejected credentials or an
// invalid mode) — callers inspect the report for partial failures.
func (o *Orchestrator) Sync(ctx context.Context, repos []string, opts Options) (Report, error) {
	if opts.Mode == "" {
		opts.Mode = models.ModeIncremental
	}
	switch opts.Mode {
	case models.ModeIncremental, models.ModeFull, models.ModeTest:
	default:
		return Report{}, fmt.Errorf("unknown sync mode %q", opts.Mode)
	}
	if opts.Mode == models.ModeTest && opts.Limit == 0 {
		opts.Limit = testPRLimit
	}

	report := Report{RunID: uuid.New().String()}
	log := logger.WithFields(map[string]interface{}{
		"run_id": report.RunID,
		"mode":   opts.Mode,
	})
	log.Infof("syncing %d repositories with %d workers", len(repos), o.workers)

	// Cancelled as soon as a worker hits a credential failure:
	// credentials are shared, so no other repository can succeed.
	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	workers := o.workers
	if workers > len(repos) {
		workers = len(repos)
	}

	reposChan := make(chan string)
	var mu gosync.Mutex
	var wg gosync.WaitGroup
	var unauthorized error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for repo := range reposChan {
				outcome := o.syncRepo(batchCtx, repo, opts)

				mu.Lock()
				report.Outcomes = append(report.Outcomes, outcome)
				if outcome.Err != nil && errors.Is(outcome.Err, github.ErrUnauthorized) {
					if unauthorized == nil {
						unauthorized = outcome.Err
					}
					cancelBatch()
				}
				mu.Unlock()
			}
		}()
	}

	for _, repo := range repos {
		select {
		case <-batchCtx.Done():
		case reposChan <- repo:
		}
	}
	close(reposChan)
	wg.Wait()

	if unauthorized != nil {
		log.Errorf("sync aborted: %v", unauthorized)
		return report, fmt.Errorf("sync aborted: %w", unauthorized)
	}

	log.Infof("sync completed: %d succeeded, %d failed", report.Succeeded(), report.Failed())
	return report, nil
}

// syncRepo runs the fetch → merge → commit sequence for one repository.
// Nothing is committed unless the whole delta was assembled, so a
// cancelled or failed worker leaves the stored state untouched.
func (o *Orchestrator) syncRepo(ctx context.Context, repo string, opts Options) Outcome {
	outcome := Outcome{Repo: repo}
	log := logger.WithField("repo", repo)

	owner, name, err := github.ParseRepo(repo)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	snap, synced, err := o.store.Lookup(repo)
	if err != nil {
		// Corrupt state is reported, never treated as empty.
		outcome.Err = err
		return outcome
	}
	existing := snap.Collections
	if !synced {
		existing = models.NewCollections()
	}

	since := freshness.EffectiveSince(snap.Meta, synced, opts.Mode, opts.Since, o.now())
	outcome.Since = since
	if since.IsZero() {
		log.Infof("fetching all pull requests (full window)")
	} else {
		log.Infof("fetching pull requests updated since %s", since.Format(time.RFC3339))
	}

	var prs []models.PullRequest
	err = o.retrier.Do(ctx, func() error {
		var fetchErr error
		prs, fetchErr = o.remote.ListPullRequests(ctx, owner, name, since)
		return fetchErr
	})
	if err != nil {
		outcome.Err = fmt.Errorf("fetch pull requests: %w", err)
		return outcome
	}

	if opts.Limit > 0 && len(prs) > opts.Limit {
		log.Infof("limiting to first %d of %d pull requests", opts.Limit, len(prs))
		prs = prs[:opts.Limit]
	}
	outcome.FetchedPRs = len(prs)

	delta := models.NewCollections()
	delta.PullRequests = prs

	for i, pr := range prs {
		if err := ctx.Err(); err != nil {
			outcome.Err = err
			return outcome
		}
		if (i+1)%10 == 0 || i+1 == len(prs) {
			log.Debugf("fetching children for pull request %d/%d", i+1, len(prs))
		}

		reviews, err := o.fetchReviews(ctx, owner, name, pr.Number)
		if err != nil {
			outcome.Err = fmt.Errorf("fetch reviews for #%d: %w", pr.Number, err)
			return outcome
		}
		delta.Reviews[pr.Number] = reviews

		comments, err := o.fetchComments(ctx, owner, name, pr.Number)
		if err != nil {
			outcome.Err = fmt.Errorf("fetch comments for #%d: %w", pr.Number, err)
			return outcome
		}
		delta.Comments[pr.Number] = comments

		reviewComments, err := o.fetchReviewComments(ctx, owner, name, pr.Number)
		if err != nil {
			outcome.Err = fmt.Errorf("fetch review comments for #%d: %w", pr.Number, err)
			return outcome
		}
		delta.ReviewComments[pr.Number] = reviewComments
	}

	merged, maxUpdated := merge.Collections(existing, delta)

	repoMeta := snap.Meta
	repoMeta.LastSyncAt = freshness.NextWatermark(snap.Meta.LastSyncAt, maxUpdated)
	repoMeta.LastMode = opts.Mode
	if opts.Mode == models.ModeFull || !synced {
		now := o.now().UTC()
		repoMeta.LastFullSyncAt = &now
	}

	if err := o.store.Commit(repo, merged, repoMeta); err != nil {
		outcome.Err = fmt.Errorf("commit: %w", err)
		return outcome
	}

	outcome.MergedPRs, outcome.Reviews, outcome.Comments, outcome.ReviewComments = merged.Counts()
	log.Infof("synced %d pull requests (%d cached, watermark %s)",
		outcome.FetchedPRs, outcome.MergedPRs, repoMeta.LastSyncAt.Format(time.RFC3339))
	return outcome
}

// fetchReviews fetches one PR's reviews with retries. A 404 means the
// PR has no such resources and yields an empty slice.
func (o *Orchestrator) fetchReviews(ctx context.Context, owner, name string, number int) ([]models.Review, error) {
	var out []models.Review
	err := o.retrier.Do(ctx, func() error {
		var fetchErr error
		out, fetchErr = o.remote.ListReviews(ctx, owner, name, number)
		return fetchErr
	})
	if err != nil {
		var notFound *github.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) fetchComments(ctx context.Context, owner, name string, number int) ([]models.Comment, error) {
	var out []models.Comment
	err := o.retrier.Do(ctx, func() error {
		var fetchErr error
		out, fetchErr = o.remote.ListComments(ctx, owner, name, number)
		return fetchErr
	})
	if err != nil {
		var notFound *github.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) fetchReviewComments(ctx context.Context, owner, name string, number int) ([]models.ReviewComment, error) {
	var out []models.ReviewComment
	err := o.retrier.Do(ctx, func() error {
		var fetchErr error
		out, fetchErr = o.remote.ListReviewComments(ctx, owner, name, number)
		return fetchErr
	})
	if err != nil {
		var notFound *github.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
