// Package models defines the cached GitHub entities and per-repository
// sync metadata shared by the store, merge and sync packages.
package models

import (
	"fmt"
	"time"
)

// Sync modes accepted by the orchestrator and recorded in metadata.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
	ModeTest        = "test"
)

// PullRequest represents a cached pull request. Field names mirror the
// GitHub payload so cache files stay diffable against API responses.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	State     string     `json:"state"`
	Draft     bool       `json:"draft,omitempty"`
	BaseRef   string     `json:"base_ref"`
	HeadRef   string     `json:"head_ref"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Key returns the identity of the pull request within its repository.
func (pr PullRequest) Key() int64 { return int64(pr.Number) }

// Fresh returns the freshness timestamp used by the merge regression rule.
func (pr PullRequest) Fresh() time.Time { return pr.UpdatedAt }

// Validate reports whether the record carries its required fields.
func (pr PullRequest) Validate() error {
	if pr.Number <= 0 {
		return fmt.Errorf("pull request missing number")
	}
	if pr.UpdatedAt.IsZero() {
		return fmt.Errorf("pull request #%d missing updated_at", pr.Number)
	}
	return nil
}

// Review represents a cached pull request review.
type Review struct {
	ID          int64     `json:"id"`
	PRNumber    int       `json:"pr_number"`
	Author      string    `json:"author"`
	State       string    `json:"state"` // approved, changes_requested, commented
	Body        string    `json:"body,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (r Review) Key() int64 { return r.ID }

// Fresh uses submitted_at; reviews are immutable once submitted.
func (r Review) Fresh() time.Time { return r.SubmittedAt }

func (r Review) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("review missing id")
	}
	if r.SubmittedAt.IsZero() {
		return fmt.Errorf("review %d missing submitted_at", r.ID)
	}
	return nil
}

// Comment represents a top-level pull request comment.
type Comment struct {
	ID        int64     `json:"id"`
	PRNumber  int       `json:"pr_number"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Comment) Key() int64       { return c.ID }
func (c Comment) Fresh() time.Time { return c.UpdatedAt }

func (c Comment) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("comment missing id")
	}
	if c.UpdatedAt.IsZero() {
		return fmt.Errorf("comment %d missing updated_at", c.ID)
	}
	return nil
}

// ReviewComment represents an inline code comment attached to a diff.
type ReviewComment struct {
	ID        int64     `json:"id"`
	PRNumber  int       `json:"pr_number"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"`
	Position  int       `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (rc ReviewComment) Key() int64       { return rc.ID }
func (rc ReviewComment) Fresh() time.Time { return rc.UpdatedAt }

func (rc ReviewComment) Validate() error {
	if rc.ID <= 0 {
		return fmt.Errorf("review comment missing id")
	}
	if rc.UpdatedAt.IsZero() {
		return fmt.Errorf("review comment %d missing updated_at", rc.ID)
	}
	return nil
}

// Collections bundles the four entity collections of one repository.
// Child collections are keyed by pull request number, matching the
// on-disk layout.
type Collections struct {
	PullRequests   []PullRequest           `json:"pull_requests"`
	Reviews        map[int][]Review        `json:"reviews"`
	Comments       map[int][]Comment       `json:"comments"`
	ReviewComments map[int][]ReviewComment `json:"review_comments"`
}

// NewCollections returns empty, non-nil collections.
func NewCollections() Collections {
	return Collections{
		Reviews:        map[int][]Review{},
		Comments:       map[int][]Comment{},
		ReviewComments: map[int][]ReviewComment{},
	}
}

// Counts returns the number of entities per collection, for sync reports
// and the status command.
func (c Collections) Counts() (prs, reviews, comments, reviewComments int) {
	prs = len(c.PullRequests)
	for _, rs := range c.Reviews {
		reviews += len(rs)
	}
	for _, cs := range c.Comments {
		comments += len(cs)
	}
	for _, rcs := range c.ReviewComments {
		reviewComments += len(rcs)
	}
	return prs, reviews, comments, reviewComments
}

// RepoMetadata records the sync watermarks for one repository.
type RepoMetadata struct {
	LastSyncAt     time.Time  `json:"last_sync_at"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`
	LastMode       string     `json:"last_mode,omitempty"`
}

// Metadata is the full metadata record: one entry per repository plus a
// global default updated on every sync run.
type Metadata struct {
	Default      RepoMetadata            `json:"default"`
	Repositories map[string]RepoMetadata `json:"repositories"`
}

// NewMetadata returns empty metadata with a non-nil repository map.
func NewMetadata() Metadata {
	return Metadata{Repositories: map[string]RepoMetadata{}}
}

// Repo returns the metadata for a repository and whether it exists.
func (m Metadata) Repo(repo string) (RepoMetadata, bool) {
	meta, ok := m.Repositories[repo]
	return meta, ok
}
