package github

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized means the credentials were rejected. Credentials are
// shared across a sync batch, so callers treat this as batch-fatal and
// never retry it.
var ErrUnauthorized = errors.New("github: unauthorized")

// RateLimitError means the API refused the request due to rate
// limiting. RetryAfter carries the server-provided hint when one was
// given, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("github: rate limited, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return "github: rate limited"
}

// NotFoundError means the repository does not exist or the credentials
// cannot see it.
type NotFoundError struct {
	Repo string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("github: repository %s not found", e.Repo)
}

// IsFatal reports whether the error can never succeed on retry.
func IsFatal(err error) bool {
	var nf *NotFoundError
	return errors.Is(err, ErrUnauthorized) || errors.As(err, &nf)
}
