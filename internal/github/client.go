// Package github implements the remote-source client: authenticated,
// paged fetches of pull requests and their child entities, with the
// error taxonomy the sync retry loop keys on.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/JohanCodinha/prcache/internal/models"
)

const perPage = 100

// Client fetches repository data from the GitHub API.
type Client struct {
	client *gh.Client
}

// New creates a client. An empty token yields an unauthenticated client
// (useful against public repositories, heavily rate limited).
func New(token string) *Client {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	return &Client{client: gh.NewClient(hc)}
}

// NewWithBaseURL creates a client pointed at a custom API base URL (for
// testing against a local mock server).
func NewWithBaseURL(token, baseURL string) (*Client, error) {
	c := New(token)
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c.client.BaseURL = u
	c.client.UploadURL = u
	return c, nil
}

// ParseRepo splits "owner/name" into owner and name.
func ParseRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format %q: must be owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// classify maps go-github errors onto the package taxonomy. Anything
// not recognized passes through as a retryable transport failure.
func classify(repo string, err error) error {
	var rateLimit *gh.RateLimitError
	if errors.As(err, &rateLimit) {
		retryAfter := time.Until(rateLimit.Rate.Reset.Time)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		var retryAfter time.Duration
		if abuse.RetryAfter != nil {
			retryAfter = *abuse.RetryAfter
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case http.StatusNotFound:
			return &NotFoundError{Repo: repo}
		}
	}

	return err
}

// ListPullRequests fetches all pull requests updated at or after since,
// paged newest-updated first. A zero since fetches everything.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, since time.Time) ([]models.PullRequest, error) {
	repo := owner + "/" + name
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []models.PullRequest
	for {
		prs, resp, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classify(repo, err)
		}

		done := false
		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				// Sorted by updated desc: everything after this
				// is older than the window.
				done = true
				break
			}
			all = append(all, convertPullRequest(pr))
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListReviews fetches the submitted reviews for one pull request.
// Pending reviews carry no submission time and are skipped.
func (c *Client) ListReviews(ctx context.Context, owner, name string, number int) ([]models.Review, error) {
	repo := owner + "/" + name
	opts := &gh.ListOptions{PerPage: perPage}

	var all []models.Review
	for {
		reviews, resp, err := c.client.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify(repo, err)
		}
		for _, r := range reviews {
			if r.SubmittedAt == nil {
				continue
			}
			all = append(all, convertReview(r, number))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListComments fetches the top-level comments on one pull request.
func (c *Client) ListComments(ctx context.Context, owner, name string, number int) ([]models.Comment, error) {
	repo := owner + "/" + name
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var all []models.Comment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify(repo, err)
		}
		for _, cm := range comments {
			all = append(all, convertComment(cm, number))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListReviewComments fetches the inline diff comments on one pull
// request.
func (c *Client) ListReviewComments(ctx context.Context, owner, name string, number int) ([]models.ReviewComment, error) {
	repo := owner + "/" + name
	opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var all []models.ReviewComment
	for {
		comments, resp, err := c.client.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify(repo, err)
		}
		for _, rc := range comments {
			all = append(all, convertReviewComment(rc, number))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func convertPullRequest(pr *gh.PullRequest) models.PullRequest {
	out := models.PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Author:    pr.GetUser().GetLogin(),
		State:     pr.GetState(),
		Draft:     pr.GetDraft(),
		BaseRef:   pr.GetBase().GetRef(),
		HeadRef:   pr.GetHead().GetRef(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		out.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		out.ClosedAt = &t
	}
	return out
}

func convertReview(r *gh.PullRequestReview, prNumber int) models.Review {
	return models.Review{
		ID:          r.GetID(),
		PRNumber:    prNumber,
		Author:      r.GetUser().GetLogin(),
		State:       strings.ToLower(r.GetState()),
		Body:        r.GetBody(),
		SubmittedAt: r.GetSubmittedAt().Time,
	}
}

func convertComment(cm *gh.IssueComment, prNumber int) models.Comment {
	return models.Comment{
		ID:        cm.GetID(),
		PRNumber:  prNumber,
		Author:    cm.GetUser().GetLogin(),
		Body:      cm.GetBody(),
		CreatedAt: cm.GetCreatedAt().Time,
		UpdatedAt: cm.GetUpdatedAt().Time,
	}
}

func convertReviewComment(rc *gh.PullRequestComment, prNumber int) models.ReviewComment {
	return models.ReviewComment{
		ID:        rc.GetID(),
		PRNumber:  prNumber,
		Author:    rc.GetUser().GetLogin(),
		Body:      rc.GetBody(),
		Path:      rc.GetPath(),
		Position:  rc.GetPosition(),
		CreatedAt: rc.GetCreatedAt().Time,
		UpdatedAt: rc.GetUpdatedAt().Time,
	}
}
