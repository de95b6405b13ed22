package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Wire shapes matching the GitHub API payloads the client reads.
type apiUser struct {
	Login string `json:"login"`
}

type apiRef struct {
	Ref string `json:"ref"`
}

type apiPullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	User      apiUser    `json:"user"`
	State     string     `json:"state"`
	Draft     bool       `json:"draft"`
	Base      apiRef     `json:"base"`
	Head      apiRef     `json:"head"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type apiReview struct {
	ID          int64      `json:"id"`
	User        apiUser    `json:"user"`
	State       string     `json:"state"`
	Body        string     `json:"body"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

type apiComment struct {
	ID        int64     `json:"id"`
	User      apiUser   `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type apiReviewComment struct {
	ID        int64     `json:"id"`
	User      apiUser   `json:"user"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MockServer provides a fake GitHub API for testing the client.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	pageSize int

	prs            map[string][]apiPullRequest      // repo -> PRs
	reviews        map[string]map[int][]apiReview   // repo -> PR number -> reviews
	comments       map[string]map[int][]apiComment  // repo -> PR number -> comments
	reviewComments map[string]map[int][]apiReviewComment

	statusOverride map[string]int // repo -> forced HTTP status
	requestCount   int
}

// NewMockServer creates a mock GitHub API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		pageSize:       100,
		prs:            make(map[string][]apiPullRequest),
		reviews:        make(map[string]map[int][]apiReview),
		comments:       make(map[string]map[int][]apiComment),
		reviewComments: make(map[string]map[int][]apiReviewComment),
		statusOverride: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", m.handleRepos)
	m.Server = httptest.NewServer(mux)
	return m
}

// SetPageSize lowers the page size so tests can exercise pagination
// without hundreds of fixtures.
func (m *MockServer) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// FailWith forces every request for the repository to return the given
// HTTP status.
func (m *MockServer) FailWith(repo string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusOverride[repo] = status
}

// AddPullRequest adds a pull request fixture.
func (m *MockServer) AddPullRequest(repo string, pr apiPullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prs[repo] = append(m.prs[repo], pr)
}

// AddReview adds a review fixture for one pull request.
func (m *MockServer) AddReview(repo string, prNumber int, r apiReview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reviews[repo] == nil {
		m.reviews[repo] = make(map[int][]apiReview)
	}
	m.reviews[repo][prNumber] = append(m.reviews[repo][prNumber], r)
}

// AddComment adds a top-level comment fixture for one pull request.
func (m *MockServer) AddComment(repo string, prNumber int, c apiComment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.comments[repo] == nil {
		m.comments[repo] = make(map[int][]apiComment)
	}
	m.comments[repo][prNumber] = append(m.comments[repo][prNumber], c)
}

// AddReviewComment adds an inline comment fixture for one pull request.
func (m *MockServer) AddReviewComment(repo string, prNumber int, rc apiReviewComment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reviewComments[repo] == nil {
		m.reviewComments[repo] = make(map[int][]apiReviewComment)
	}
	m.reviewComments[repo][prNumber] = append(m.reviewComments[repo][prNumber], rc)
}

// Requests returns how many API requests the server has seen.
func (m *MockServer) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

func (m *MockServer) handleRepos(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/repos/"), "/")
	if len(parts) < 3 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	repo := parts[0] + "/" + parts[1]

	m.mu.RLock()
	defer m.mu.RUnlock()

	if status, ok := m.statusOverride[repo]; ok {
		if status == http.StatusForbidden {
			// Rate-limit shape: 403 with an exhausted quota header.
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
		return
	}

	// /repos/{owner}/{repo}/pulls
	if len(parts) == 3 && parts[2] == "pulls" {
		m.servePage(w, r, m.sortedPRs(repo))
		return
	}

	if len(parts) == 5 {
		number, err := strconv.Atoi(parts[3])
		if err != nil {
			http.Error(w, "invalid number", http.StatusBadRequest)
			return
		}
		switch {
		// /repos/{owner}/{repo}/pulls/{number}/reviews
		case parts[2] == "pulls" && parts[4] == "reviews":
			m.servePage(w, r, m.reviews[repo][number])
			return
		// /repos/{owner}/{repo}/pulls/{number}/comments
		case parts[2] == "pulls" && parts[4] == "comments":
			m.servePage(w, r, m.reviewComments[repo][number])
			return
		// /repos/{owner}/{repo}/issues/{number}/comments
		case parts[2] == "issues" && parts[4] == "comments":
			m.servePage(w, r, m.comments[repo][number])
			return
		}
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// sortedPRs returns the repository's pull requests newest-updated
// first, the order the client's early-stop scan relies on.
func (m *MockServer) sortedPRs(repo string) []apiPullRequest {
	prs := append([]apiPullRequest(nil), m.prs[repo]...)
	sort.Slice(prs, func(i, j int) bool { return prs[i].UpdatedAt.After(prs[j].UpdatedAt) })
	return prs
}

// servePage writes one page of items with a Link header pointing at the
// next page when more remain.
func servePageItems[T any](m *MockServer, w http.ResponseWriter, r *http.Request, items []T) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	start := (page - 1) * m.pageSize
	end := start + m.pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	if end < len(items) {
		next := *r.URL
		q := next.Query()
		q.Set("page", strconv.Itoa(page+1))
		next.RawQuery = q.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<http://%s%s>; rel="next"`, r.Host, next.RequestURI()))
	}

	w.Header().Set("Content-Type", "application/json")
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	json.NewEncoder(w).Encode(out)
}

func (m *MockServer) servePage(w http.ResponseWriter, r *http.Request, items interface{}) {
	switch v := items.(type) {
	case []apiPullRequest:
		servePageItems(m, w, r, v)
	case []apiReview:
		servePageItems(m, w, r, v)
	case []apiComment:
		servePageItems(m, w, r, v)
	case []apiReviewComment:
		servePageItems(m, w, r, v)
	default:
		http.Error(w, "unsupported collection", http.StatusInternalServerError)
	}
}
