// Package cache provides the durable, repository-scoped entity store
// backing the sync engine and the analysis boundary. State is persisted
// as indented JSON records, one file per collection, so cache contents
// stay human-diffable.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JohanCodinha/prcache/internal/models"
)

// Record file names inside the cache directory. Stable for
// compatibility: renaming one orphans previously synced data.
const (
	metadataFile       = "metadata.json"
	pullRequestsFile   = "pull_requests.json"
	reviewsFile        = "reviews.json"
	commentsFile       = "comments.json"
	reviewCommentsFile = "review_comments.json"
)

// CorruptError reports a persisted record that exists but cannot be
// parsed or fails validation. Callers must surface it instead of
// treating the repository as empty, so data loss stays visible and the
// operator can decide to clear and resync.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt cache record %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store is the durable entity store for one cache directory. It is safe
// for concurrent use within a single process; commits for different
// repositories serialize on the store mutex because all repositories
// share the per-collection record files.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// Snapshot bundles everything the store holds for one repository.
type Snapshot struct {
	Collections models.Collections
	Meta        models.RepoMetadata
}

// New opens (creating if needed) the cache directory and returns a store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string { return s.dir }

// readRecord loads one record file into a per-repository map. A missing
// file is an empty record; an unparseable file is a CorruptError.
func readRecord[T any](path string) (map[string]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]T{}, nil
		}
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}

	record := map[string]T{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return record, nil
}

// writeRecord persists a record via write-to-temporary then rename, so a
// reader never observes a half-written file.
func writeRecord[T any](path string, record map[string]T) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace cache record: %w", err)
	}
	return nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// readMetadata loads the metadata record.
func (s *Store) readMetadata() (models.Metadata, error) {
	record, err := readRecord[json.RawMessage](s.path(metadataFile))
	if err != nil {
		return models.Metadata{}, err
	}

	meta := models.NewMetadata()
	if raw, ok := record["default"]; ok {
		if err := json.Unmarshal(raw, &meta.Default); err != nil {
			return models.Metadata{}, &CorruptError{Path: s.path(metadataFile), Err: err}
		}
	}
	if raw, ok := record["repositories"]; ok {
		if err := json.Unmarshal(raw, &meta.Repositories); err != nil {
			return models.Metadata{}, &CorruptError{Path: s.path(metadataFile), Err: err}
		}
	}
	if meta.Repositories == nil {
		meta.Repositories = map[string]models.RepoMetadata{}
	}
	return meta, nil
}

func (s *Store) writeMetadata(meta models.Metadata) error {
	record := map[string]json.RawMessage{}
	def, err := json.Marshal(meta.Default)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	repos, err := json.Marshal(meta.Repositories)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	record["default"] = def
	record["repositories"] = repos
	return writeRecord(s.path(metadataFile), record)
}

// Metadata returns the full metadata record.
func (s *Store) Metadata() (models.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata()
}

// loadLocked loads the four collections for a repository. Caller holds
// at least the read lock.
func (s *Store) loadLocked(repo string) (models.Collections, error) {
	c := models.NewCollections()

	prs, err := readRecord[[]models.PullRequest](s.path(pullRequestsFile))
	if err != nil {
		return c, err
	}
	reviews, err := readRecord[map[int][]models.Review](s.path(reviewsFile))
	if err != nil {
		return c, err
	}
	comments, err := readRecord[map[int][]models.Comment](s.path(commentsFile))
	if err != nil {
		return c, err
	}
	reviewComments, err := readRecord[map[int][]models.ReviewComment](s.path(reviewCommentsFile))
	if err != nil {
		return c, err
	}

	c.PullRequests = prs[repo]
	if m := reviews[repo]; m != nil {
		c.Reviews = m
	}
	if m := comments[repo]; m != nil {
		c.Comments = m
	}
	if m := reviewComments[repo]; m != nil {
		c.ReviewComments = m
	}

	if err := validate(s.path(pullRequestsFile), c); err != nil {
		return models.NewCollections(), err
	}
	return c, nil
}

// validate flags records missing required fields as corrupt rather than
// letting them flow into merges with zero timestamps.
func validate(path string, c models.Collections) error {
	for _, pr := range c.PullRequests {
		if err := pr.Validate(); err != nil {
			return &CorruptError{Path: path, Err: err}
		}
	}
	for _, items := range c.Reviews {
		for _, r := range items {
			if err := r.Validate(); err != nil {
				return &CorruptError{Path: path, Err: err}
			}
		}
	}
	for _, items := range c.Comments {
		for _, cm := range items {
			if err := cm.Validate(); err != nil {
				return &CorruptError{Path: path, Err: err}
			}
		}
	}
	for _, items := range c.ReviewComments {
		for _, rc := range items {
			if err := rc.Validate(); err != nil {
				return &CorruptError{Path: path, Err: err}
			}
		}
	}
	return nil
}

// Load returns the collections and metadata for a repository. A
// repository that was never synced yields empty collections and zero
// metadata, not an error.
func (s *Store) Load(repo string) (models.Collections, models.RepoMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.loadLocked(repo)
	if err != nil {
		return models.NewCollections(), models.RepoMetadata{}, err
	}
	meta, err := s.readMetadata()
	if err != nil {
		return models.NewCollections(), models.RepoMetadata{}, err
	}
	repoMeta, _ := meta.Repo(repo)
	return c, repoMeta, nil
}

// Commit replaces the persisted state for a repository as one unit: the
// four collections first, metadata last. Renames are the only mutation,
// so a crash mid-commit leaves at worst entities ahead of the recorded
// watermark, which the next incremental sync re-merges harmlessly.
func (s *Store) Commit(repo string, c models.Collections, repoMeta models.RepoMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prs, err := readRecord[[]models.PullRequest](s.path(pullRequestsFile))
	if err != nil {
		return err
	}
	reviews, err := readRecord[map[int][]models.Review](s.path(reviewsFile))
	if err != nil {
		return err
	}
	comments, err := readRecord[map[int][]models.Comment](s.path(commentsFile))
	if err != nil {
		return err
	}
	reviewComments, err := readRecord[map[int][]models.ReviewComment](s.path(reviewCommentsFile))
	if err != nil {
		return err
	}
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}

	prs[repo] = c.PullRequests
	reviews[repo] = c.Reviews
	comments[repo] = c.Comments
	reviewComments[repo] = c.ReviewComments

	if err := writeRecord(s.path(pullRequestsFile), prs); err != nil {
		return err
	}
	if err := writeRecord(s.path(reviewsFile), reviews); err != nil {
		return err
	}
	if err := writeRecord(s.path(commentsFile), comments); err != nil {
		return err
	}
	if err := writeRecord(s.path(reviewCommentsFile), reviewComments); err != nil {
		return err
	}

	meta.Repositories[repo] = repoMeta
	if repoMeta.LastSyncAt.After(meta.Default.LastSyncAt) {
		meta.Default.LastSyncAt = repoMeta.LastSyncAt
		meta.Default.LastMode = repoMeta.LastMode
	}
	return s.writeMetadata(meta)
}

// Clear removes all persisted state for one repository, including its
// metadata entry. Clearing an unknown repository is a no-op.
func (s *Store) Clear(repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prs, err := readRecord[[]models.PullRequest](s.path(pullRequestsFile))
	if err != nil {
		return err
	}
	reviews, err := readRecord[map[int][]models.Review](s.path(reviewsFile))
	if err != nil {
		return err
	}
	comments, err := readRecord[map[int][]models.Comment](s.path(commentsFile))
	if err != nil {
		return err
	}
	reviewComments, err := readRecord[map[int][]models.ReviewComment](s.path(reviewCommentsFile))
	if err != nil {
		return err
	}
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}

	delete(prs, repo)
	delete(reviews, repo)
	delete(comments, repo)
	delete(reviewComments, repo)
	delete(meta.Repositories, repo)

	if err := writeRecord(s.path(pullRequestsFile), prs); err != nil {
		return err
	}
	if err := writeRecord(s.path(reviewsFile), reviews); err != nil {
		return err
	}
	if err := writeRecord(s.path(commentsFile), comments); err != nil {
		return err
	}
	if err := writeRecord(s.path(reviewCommentsFile), reviewComments); err != nil {
		return err
	}
	return s.writeMetadata(meta)
}

// ClearAll removes every entity record and the metadata file. Idempotent.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{metadataFile, pullRequestsFile, reviewsFile, commentsFile, reviewCommentsFile} {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// Repositories lists the repositories with a metadata entry, i.e. those
// that completed at least one sync commit.
func (s *Store) Repositories() ([]string, error) {
	meta, err := s.Metadata()
	if err != nil {
		return nil, err
	}
	repos := make([]string, 0, len(meta.Repositories))
	for repo := range meta.Repositories {
		repos = append(repos, repo)
	}
	return repos, nil
}

// IsAvailable reports whether any cached data exists for the repository.
func (s *Store) IsAvailable(repo string) (bool, error) {
	meta, err := s.Metadata()
	if err != nil {
		return false, err
	}
	_, ok := meta.Repo(repo)
	return ok, nil
}

// Lookup returns the repository snapshot and an explicit hit flag. A
// miss means the caller must fall back to the remote source; it is not
// an error.
func (s *Store) Lookup(repo string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMetadata()
	if err != nil {
		return Snapshot{}, false, err
	}
	repoMeta, ok := meta.Repo(repo)
	if !ok {
		return Snapshot{}, false, nil
	}
	c, err := s.loadLocked(repo)
	if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{Collections: c, Meta: repoMeta}, true, nil
}

// PullRequests returns the cached pull requests for a repository.
func (s *Store) PullRequests(repo string) ([]models.PullRequest, error) {
	c, _, err := s.Load(repo)
	if err != nil {
		return nil, err
	}
	return c.PullRequests, nil
}

// Reviews returns the cached reviews for one pull request.
func (s *Store) Reviews(repo string, prNumber int) ([]models.Review, error) {
	c, _, err := s.Load(repo)
	if err != nil {
		return nil, err
	}
	return c.Reviews[prNumber], nil
}

// Comments returns the cached comments for one pull request.
func (s *Store) Comments(repo string, prNumber int) ([]models.Comment, error) {
	c, _, err := s.Load(repo)
	if err != nil {
		return nil, err
	}
	return c.Comments[prNumber], nil
}

// ReviewComments returns the cached review comments for one pull request.
func (s *Store) ReviewComments(repo string, prNumber int) ([]models.ReviewComment, error) {
	c, _, err := s.Load(repo)
	if err != nil {
		return nil, err
	}
	return c.ReviewComments[prNumber], nil
}

// Sizes reports the on-disk size of each record file in bytes, for the
// status command. Missing files report zero.
func (s *Store) Sizes() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sizes := map[string]int64{}
	for _, name := range []string{metadataFile, pullRequestsFile, reviewsFile, commentsFile, reviewCommentsFile} {
		info, err := os.Stat(s.path(name))
		if err != nil {
			sizes[name] = 0
			continue
		}
		sizes[name] = info.Size()
	}
	return sizes
}
