package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"

	"github.com/kay-mw/mkdockyard"
	"github.com/kay-mw/mkdockyard/adapter"
	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/fetch"
)

type versionChecker interface {
	CheckVersion(ctx context.Context) error
}

func resolveFlags(flags *flag.FlagSet, opts *options) {
	flags.BoolVar(&opts.checkCollisions, "check-collisions", true, "fail when a repository name is already importable")
	flags.StringVar(&opts.python, "python", "python3", "interpreter used for the collision check")
	flags.BoolVar(&opts.noPrune, "no-prune", false, "skip pruning after a successful resolve")
}

type resolveOutput struct {
	SearchPaths []string          `json:"search_paths" yaml:"search_paths"`
	Repos       map[string]string `json:"repos" yaml:"repos"`
	Fetched     int               `json:"fetched" yaml:"fetched"`
	Reused      int               `json:"reused" yaml:"reused"`
}

// resolveCmd fetches every configured repository, checks the names against
// the Python environment and prunes the cache down to its budget. Repositories
// used by this build are protected from the prune.
func resolveCmd(ctx context.Context, e *env) error {
	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	transport, err := e.cfg.NewTransport(e.logger)
	if err != nil {
		return err
	}
	if vc, ok := transport.(versionChecker); ok {
		if err := vc.CheckVersion(ctx); err != nil {
			return err
		}
	}

	opts, err := e.cfg.FetchOptions(e.logger)
	if err != nil {
		return err
	}
	orch := fetch.NewOrchestrator(fetch.NewFetcher(store, transport, opts...), opts...)

	res, err := orch.Resolve(ctx, e.cfg.Repos)
	if err != nil {
		return err
	}

	a := adapter.New(res.Paths,
		adapter.NewPythonEnvironment(adapter.WithInterpreter(e.opts.python)),
		adapter.WithLogger(e.logger),
	)
	if e.opts.checkCollisions {
		if err := a.Check(ctx); err != nil {
			return err
		}
	}

	if !e.opts.noPrune {
		report, err := cache.NewPruner(store, e.cfg.Budget).Prune(res.Keys...)
		if err != nil {
			return err
		}
		logPrune(e, report)
	}

	out := resolveOutput{
		SearchPaths: a.SearchPaths(),
		Repos:       a.Paths(),
		Fetched:     res.Fetched,
		Reused:      res.Reused,
	}
	if e.format != formatText {
		return write(e.stdout, e.format, out)
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, name := range e.cfg.Repos.Names() {
		fmt.Fprintf(tw, "%s\t%s\n", name, out.Repos[name])
	}
	return tw.Flush()
}

func pruneFlags(flags *flag.FlagSet, opts *options) {
	flags.StringVar(&opts.budget, "budget", "", "override the configured budget (e.g. 500MB)")
}

type pruneOutput struct {
	Budget    int64       `json:"budget" yaml:"budget"`
	Before    int64       `json:"before" yaml:"before"`
	After     int64       `json:"after" yaml:"after"`
	Reclaimed int64       `json:"reclaimed" yaml:"reclaimed"`
	Removed   []entryView `json:"removed" yaml:"removed"`
	Failed    []string    `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// pruneCmd enforces the budget without fetching. Repositories named in the
// configuration are protected.
func pruneCmd(_ context.Context, e *env) error {
	budget := e.cfg.Budget
	if e.opts.budget != "" {
		b, err := humanize.ParseBytes(e.opts.budget)
		if err != nil {
			return errors.WithContext(
				errors.Wrap(err, errors.CodeInvalidConfig, "invalid -budget"),
				"budget", e.opts.budget,
			)
		}
		budget = int64(b) //nolint:gosec // budgets beyond 8 EiB are not meaningful
	}

	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	protected := make([]cache.Key, 0, len(e.cfg.Repos))
	for _, d := range e.cfg.Repos {
		protected = append(protected, cache.NewKey(d.URL, d.Ref))
	}

	report, err := cache.NewPruner(store, budget).Prune(protected...)
	if err != nil {
		return err
	}
	logPrune(e, report)

	out := pruneOutput{
		Budget:    report.Budget,
		Before:    report.Before,
		After:     report.After,
		Reclaimed: report.Reclaimed,
		Removed:   views(report.Removed),
	}
	for _, f := range report.Failures {
		out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", f.Entry.Key.Short(), f.Err))
	}
	if e.format != formatText {
		return write(e.stdout, e.format, out)
	}

	fmt.Fprintf(e.stdout, "Removed %d entries, reclaimed %s (%s of %s used)\n",
		len(report.Removed), formatBytes(report.Reclaimed), formatBytes(report.After), formatBytes(report.Budget))
	return nil
}

type entryView struct {
	Key        string    `json:"key" yaml:"key"`
	URL        string    `json:"url" yaml:"url"`
	Ref        string    `json:"ref" yaml:"ref"`
	Path       string    `json:"path" yaml:"path"`
	State      string    `json:"state" yaml:"state"`
	SizeBytes  int64     `json:"size_bytes" yaml:"size_bytes"`
	LastUsedAt time.Time `json:"last_used_at" yaml:"last_used_at"`
}

func views(entries []cache.Entry) []entryView {
	out := make([]entryView, len(entries))
	for i, en := range entries {
		out[i] = entryView{
			Key:        string(en.Key),
			URL:        en.URL,
			Ref:        en.Ref,
			Path:       en.Path,
			State:      string(en.State),
			SizeBytes:  en.SizeBytes,
			LastUsedAt: en.LastUsedAt,
		}
	}
	return out
}

type listOutput struct {
	Entries   []entryView `json:"entries" yaml:"entries"`
	TotalSize int64       `json:"total_size" yaml:"total_size"`
	Budget    int64       `json:"budget" yaml:"budget"`
}

// listCmd prints the index, most recently used first.
func listCmd(_ context.Context, e *env) error {
	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List()
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUsedAt.After(entries[j].LastUsedAt)
	})

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	if e.format != formatText {
		return write(e.stdout, e.format, listOutput{
			Entries:   views(entries),
			TotalSize: stats.TotalSize,
			Budget:    e.cfg.Budget,
		})
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATE\tSIZE\tLAST USED\tURL\tREF")
	for _, en := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			en.Key.Short(), en.State, formatBytes(en.SizeBytes), humanize.Time(en.LastUsedAt), en.URL, en.Ref)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d entries, %s of %s\n", stats.Entries, formatBytes(stats.TotalSize), formatBytes(e.cfg.Budget))
	return nil
}

type verifyOutput struct {
	Purged  []entryView `json:"purged" yaml:"purged"`
	Orphans []string    `json:"orphans" yaml:"orphans"`
	Corrupt []string    `json:"corrupt" yaml:"corrupt"`
	Checked int         `json:"checked" yaml:"checked"`
}

// verifyCmd reconciles the index with the filesystem and checks every fresh
// entry. It fails when an entry is still corrupt afterwards.
func verifyCmd(_ context.Context, e *env) error {
	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	report, err := store.Reconcile()
	if err != nil {
		return err
	}

	entries, err := store.List()
	if err != nil {
		return err
	}

	out := verifyOutput{
		Purged:  views(report.Purged),
		Orphans: report.Orphans,
	}
	var corrupt []string
	for _, en := range entries {
		if !en.Fresh() {
			continue
		}
		out.Checked++
		if err := store.Verify(en); err != nil {
			e.logger.Warn("Cache entry failed verification", "key", en.Key.Short(), "error", err)
			out.Corrupt = append(out.Corrupt, string(en.Key))
			corrupt = append(corrupt, en.Key.Short())
		}
	}

	if e.format != formatText {
		if err := write(e.stdout, e.format, out); err != nil {
			return err
		}
	} else {
		printVerify(e.stdout, out)
	}

	if len(corrupt) > 0 {
		return corruptEntriesError(corrupt)
	}
	return nil
}

func corruptEntriesError(keys []string) error {
	return errors.WithContext(
		errors.Newf(mkdockyard.CodeCorruption, "%d cache entries are corrupt", len(keys)),
		"keys", keys,
	)
}

func printVerify(w io.Writer, out verifyOutput) {
	for _, p := range out.Purged {
		fmt.Fprintf(w, "purged   %s %s@%s\n", cache.Key(p.Key).Short(), p.URL, p.Ref)
	}
	for _, o := range out.Orphans {
		fmt.Fprintf(w, "orphan   %s\n", o)
	}
	fmt.Fprintf(w, "%d entries checked, %d corrupt\n", out.Checked, len(out.Corrupt))
}

func logPrune(e *env, report *cache.PruneReport) {
	if len(report.Removed) == 0 && len(report.Failures) == 0 {
		e.logger.Debug("Cache within budget", "size", formatBytes(report.Before), "budget", formatBytes(report.Budget))
		return
	}
	e.logger.Info("Pruned cache",
		"removed", len(report.Removed),
		"reclaimed", formatBytes(report.Reclaimed),
		"size", formatBytes(report.After),
		"budget", formatBytes(report.Budget),
	)
	if report.After > report.Budget {
		e.logger.Warn("Cache still exceeds budget", "size", formatBytes(report.After), "budget", formatBytes(report.Budget))
	}
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
