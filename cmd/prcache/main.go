// Package main provides the CLI entrypoint for prcache.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JohanCodinha/prcache/internal/cache"
	"github.com/JohanCodinha/prcache/internal/github"
	"github.com/JohanCodinha/prcache/internal/md"
	"github.com/JohanCodinha/prcache/internal/models"
	"github.com/JohanCodinha/prcache/internal/results"
	"github.com/JohanCodinha/prcache/internal/sync"
	"github.com/JohanCodinha/prcache/pkg/config"
	"github.com/JohanCodinha/prcache/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prcache",
	Short: "Local cache of GitHub pull request data",
	Long: `prcache keeps a local, durable copy of pull requests, reviews and
comments for a set of repositories, synchronized incrementally so
repeated runs only fetch what changed.`,
}

var (
	syncRepos   []string
	syncSince   string
	syncFull    bool
	syncTest    bool
	syncWorkers int
	syncTimeout int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch remote changes into the local cache",
	Long: `Synchronize pull requests, reviews and comments for the configured
repositories. By default only data updated since each repository's last
sync is fetched; --full refetches everything and --test-mode fetches a
small recent sample for trying things out.`,
	RunE: runSync,
}

var showCmd = &cobra.Command{
	Use:   "show <owner/repo> <number>",
	Short: "Print a cached pull request with its reviews and comments",
	Long: `Render one cached pull request as markdown, including its reviews,
comments and inline code comments. Reads only local data; run sync
first.`,
	Args: cobra.ExactArgs(2),
	RunE: runShow,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached repositories and cache sizes",
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear [owner/repo]",
	Short: "Remove cached data for one repository, or all of it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

var clearResultsCmd = &cobra.Command{
	Use:   "clear-results",
	Short: "Remove all cached computation results",
	RunE:  runClearResults,
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncRepos, "repos", nil, "repositories to sync (owner/repo), overrides the team config")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "only fetch data updated since this date (YYYY-MM-DD)")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "refetch everything regardless of previous syncs")
	syncCmd.Flags().BoolVar(&syncTest, "test-mode", false, "fetch a small recent sample per repository")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "parallel repository workers (default from PRCACHE_WORKERS)")
	syncCmd.Flags().IntVar(&syncTimeout, "timeout", 0, "overall timeout in minutes (default from PRCACHE_TIMEOUT_MINUTES)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(clearResultsCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if syncFull && syncTest {
		return fmt.Errorf("--full and --test-mode are mutually exclusive")
	}

	repos := syncRepos
	if len(repos) == 0 {
		team, err := config.LoadTeamConfig(cfg.TeamConfigFile)
		if err != nil {
			return fmt.Errorf("no --repos given and team config unavailable: %w", err)
		}
		repos = team.GithubRepositories
	}
	if len(repos) == 0 {
		return fmt.Errorf("no repositories to sync")
	}
	for _, repo := range repos {
		if _, _, err := github.ParseRepo(repo); err != nil {
			return err
		}
	}

	opts := sync.Options{Mode: models.ModeIncremental}
	if syncFull {
		opts.Mode = models.ModeFull
	}
	if syncTest {
		opts.Mode = models.ModeTest
	}
	if syncSince != "" {
		since, err := time.Parse("2006-01-02", syncSince)
		if err != nil {
			return fmt.Errorf("invalid --since date %q: %w", syncSince, err)
		}
		opts.Since = since
	}

	token, err := github.GetToken()
	if err != nil {
		return fmt.Errorf("failed to get GitHub token: %w\nRun 'gh auth login' or set GITHUB_TOKEN", err)
	}

	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	orch := sync.New(store, github.New(token))
	workers := cfg.Workers
	if syncWorkers > 0 {
		workers = syncWorkers
	}
	orch.SetWorkers(workers)

	timeout := cfg.TimeoutMinutes
	if syncTimeout > 0 {
		timeout = syncTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Minute)
	defer cancel()

	report, err := orch.Sync(ctx, repos, opts)
	printReport(report)
	if err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", report.Failed(), len(report.Outcomes))
	}
	return nil
}

func printReport(report sync.Report) {
	sort.Slice(report.Outcomes, func(i, j int) bool {
		return report.Outcomes[i].Repo < report.Outcomes[j].Repo
	})
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Printf("  %-40s FAILED: %v\n", o.Repo, o.Err)
			continue
		}
		fmt.Printf("  %-40s %d fetched, %d PRs / %d reviews / %d comments cached\n",
			o.Repo, o.FetchedPRs, o.MergedPRs, o.Reviews, o.Comments+o.ReviewComments)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	repo := args[0]
	if _, _, err := github.ParseRepo(repo); err != nil {
		return err
	}
	number, err := strconv.Atoi(args[1])
	if err != nil || number <= 0 {
		return fmt.Errorf("invalid pull request number %q", args[1])
	}

	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	snap, ok, err := store.Lookup(repo)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	if !ok {
		return fmt.Errorf("no cached data for %s, run 'prcache sync' first", repo)
	}

	thread := md.Thread{Repo: repo}
	for _, pr := range snap.Collections.PullRequests {
		if pr.Number == number {
			thread.PullRequest = pr
			break
		}
	}
	if thread.PullRequest.Number == 0 {
		return fmt.Errorf("pull request %s#%d not in cache", repo, number)
	}
	thread.Reviews = snap.Collections.Reviews[number]
	thread.Comments = snap.Collections.Comments[number]
	thread.ReviewComments = snap.Collections.ReviewComments[number]

	fmt.Print(md.Render(thread))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	repos, err := store.Repositories()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	meta, err := store.Metadata()
	if err != nil {
		return fmt.Errorf("failed to read cache metadata: %w", err)
	}

	sort.Strings(repos)
	fmt.Printf("cache directory: %s\n", store.Dir())
	if len(repos) == 0 {
		fmt.Println("no repositories cached")
	}
	for _, repo := range repos {
		line := fmt.Sprintf("  %-40s", repo)
		if rm, ok := meta.Repo(repo); ok && !rm.LastSyncAt.IsZero() {
			line += fmt.Sprintf(" last synced %s (%s)", humanize.Time(rm.LastSyncAt), rm.LastMode)
		} else {
			line += " never synced"
		}
		fmt.Println(line)
	}

	var total int64
	sizes := store.Sizes()
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nfiles:")
	for _, name := range names {
		fmt.Printf("  %-24s %s\n", name, humanize.Bytes(uint64(sizes[name])))
		total += sizes[name]
	}

	res, err := results.Open(cfg.CacheDir)
	if err == nil {
		defer res.Close()
		entries, payloadBytes, infoErr := res.Info()
		if infoErr == nil {
			fmt.Printf("\nresults cache: %d entries, %s\n", entries, humanize.Bytes(uint64(payloadBytes)))
		}
	}

	fmt.Printf("\ntotal entity data: %s\n", humanize.Bytes(uint64(total)))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	if len(args) == 1 {
		repo := args[0]
		if _, _, err := github.ParseRepo(repo); err != nil {
			return err
		}
		if err := store.Clear(repo); err != nil {
			return fmt.Errorf("failed to clear %s: %w", repo, err)
		}
		fmt.Printf("cleared cached data for %s\n", repo)
	} else {
		if err := store.ClearAll(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Println("cleared all cached data")
	}

	// Memoized results over the cleared repository would otherwise
	// validate as fresh hits once its watermark disappears.
	res, err := results.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open results cache: %w", err)
	}
	defer res.Close()
	if err := res.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear results cache: %w", err)
	}
	return nil
}

func runClearResults(cmd *cobra.Command, args []string) error {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	res, err := results.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open results cache: %w", err)
	}
	defer res.Close()

	if err := res.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear results cache: %w", err)
	}
	fmt.Println("cleared all cached results")
	return nil
}
