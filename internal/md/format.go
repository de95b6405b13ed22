// Package md renders cached pull request threads as markdown for the
// show command.
package md

import (
	"fmt"
	"strings"
	"time"

	"github.com/JohanCodinha/prcache/internal/models"
)

// Thread bundles one pull request with its cached children for
// rendering.
type Thread struct {
	Repo           string
	PullRequest    models.PullRequest
	Reviews        []models.Review
	Comments       []models.Comment
	ReviewComments []models.ReviewComment
}

// Render converts a pull request thread to markdown with YAML
// frontmatter: metadata up top, then the review and comment history in
// sections.
func Render(t Thread) string {
	var b strings.Builder
	pr := t.PullRequest

	b.WriteString("---\n")
	fmt.Fprintf(&b, "number: %d\n", pr.Number)
	fmt.Fprintf(&b, "repo: %s\n", t.Repo)
	fmt.Fprintf(&b, "url: https://github.com/%s/pull/%d\n", t.Repo, pr.Number)
	fmt.Fprintf(&b, "state: %s\n", renderState(pr))
	if pr.Draft {
		b.WriteString("draft: true\n")
	}
	fmt.Fprintf(&b, "author: %s\n", pr.Author)
	fmt.Fprintf(&b, "base: %s\n", pr.BaseRef)
	fmt.Fprintf(&b, "head: %s\n", pr.HeadRef)
	fmt.Fprintf(&b, "created_at: %q\n", pr.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "updated_at: %q\n", pr.UpdatedAt.Format(time.RFC3339))
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n", pr.Title)

	if len(t.Reviews) > 0 {
		b.WriteString("\n## Reviews\n\n")
		for _, r := range t.Reviews {
			fmt.Fprintf(&b, "- **%s** %s (%s)\n", r.Author, r.State, r.SubmittedAt.Format("2006-01-02 15:04"))
			if r.Body != "" {
				fmt.Fprintf(&b, "  %s\n", indentContinuation(r.Body))
			}
		}
	}

	if len(t.Comments) > 0 {
		b.WriteString("\n## Comments\n")
		for _, c := range t.Comments {
			fmt.Fprintf(&b, "\n**%s** (%s):\n\n%s\n", c.Author, c.CreatedAt.Format("2006-01-02 15:04"), c.Body)
		}
	}

	if len(t.ReviewComments) > 0 {
		b.WriteString("\n## Code comments\n")
		for _, rc := range t.ReviewComments {
			location := rc.Path
			if rc.Position > 0 {
				location = fmt.Sprintf("%s:%d", rc.Path, rc.Position)
			}
			fmt.Fprintf(&b, "\n**%s** on `%s`:\n\n%s\n", rc.Author, location, rc.Body)
		}
	}

	return b.String()
}

// renderState folds the merged flag into the state label, since the API
// reports merged pull requests as closed.
func renderState(pr models.PullRequest) string {
	if pr.MergedAt != nil {
		return "merged"
	}
	return pr.State
}

// indentContinuation keeps multi-line review bodies inside their list
// item.
func indentContinuation(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}
