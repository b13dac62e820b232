package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterbox/internal/delivery"
	localsink "github.com/JakeFAU/chapterbox/internal/delivery/local"
	"github.com/JakeFAU/chapterbox/internal/id"
	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/progress"
	"github.com/JakeFAU/chapterbox/internal/server"
	"github.com/JakeFAU/chapterbox/internal/worker"
)

const cliRequester = "cli"

type getOptions struct {
	from  string
	to    string
	all   bool
	out   string
	title string
}

func newGetCmd(cli *cliContext) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <source> <manga-id>",
		Short: "Download chapters into a local directory",
		Long: `Downloads a range of chapters in the foreground and writes one CBZ per
chapter under <out>/cli/. Chapters are selected by number with --from/--to, or
all at once with --all.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, cli, opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "first chapter number to download")
	cmd.Flags().StringVar(&opts.to, "to", "", "last chapter number to download")
	cmd.Flags().BoolVar(&opts.all, "all", false, "download every chapter")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory (default delivery.local.dir)")
	cmd.Flags().StringVar(&opts.title, "title", "", "work title used in archive names")
	return cmd
}

func runGet(cmd *cobra.Command, cli *cliContext, opts getOptions, sourceName, mangaID string) error {
	cfg, err := cli.config()
	if err != nil {
		return err
	}
	logger, err := cli.log()
	if err != nil {
		return err
	}
	registry, err := server.NewRegistry(cfg, logger)
	if err != nil {
		return err
	}
	conn, err := registry.Get(sourceName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	chapters, err := conn.ListChapters(ctx, manga.Ref{ID: mangaID, Source: conn.Name()})
	if err != nil {
		return fmt.Errorf("list chapters: %w", err)
	}
	manga.SortChapters(chapters, false)
	selected, err := selectChapters(chapters, opts)
	if err != nil {
		return err
	}
	if opts.title != "" {
		for i := range selected {
			selected[i].Title = opts.title
		}
	}

	outDir := opts.out
	if outDir == "" {
		outDir = cfg.Delivery.Local.Dir
	}
	sink, err := localsink.New(localsink.Config{Dir: outDir})
	if err != nil {
		return err
	}
	handoff := delivery.NewHandoff(sink, delivery.Config{
		SinkName:         "local",
		TransientRetries: cfg.Delivery.TransientRetries,
		TransientBackoff: cfg.Delivery.TransientBackoff,
		RateLimitMargin:  cfg.Delivery.RateLimitMargin,
	}, logger)

	stderr := cmd.ErrOrStderr()
	tty := false
	if f, ok := stderr.(*os.File); ok {
		tty = isTerminal(f)
	}
	reporter := newGetReporter(stderr, len(selected), tty)

	w := worker.New(worker.Deps{
		Fetcher:   server.NewFetcher(cfg, logger),
		Deliverer: handoff,
		Events:    reporter,
	}, worker.Config{
		PacingDelay:            cfg.Scheduler.PacingDelay,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}, logger)

	job := manga.NewJob(id.Request(), cliRequester, conn, selected, time.Now())
	w.Process(ctx, job)
	reporter.finish()

	snap := job.Snapshot()
	fmt.Fprintln(cmd.OutOrStdout(), reporter.summary(snap, outDir))
	if snap.Status == manga.JobStatusFailed {
		return fmt.Errorf("download failed: %s", snap.Note)
	}
	return nil
}

// selectChapters picks chapters whose number falls in [from, to]. Either bound
// may be empty; at least one bound or all is required.
func selectChapters(chapters []manga.ChapterRef, opts getOptions) ([]manga.ChapterRef, error) {
	if opts.all {
		if len(chapters) == 0 {
			return nil, manga.ErrNoChapters
		}
		return chapters, nil
	}
	if opts.from == "" && opts.to == "" {
		return nil, errors.New("choose chapters with --from/--to or --all")
	}
	lo, err := parseBound(opts.from, -1)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	hi, err := parseBound(opts.to, 1e12)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if lo > hi {
		return nil, fmt.Errorf("--from %s is after --to %s", opts.from, opts.to)
	}
	var out []manga.ChapterRef
	for _, ch := range chapters {
		n, ok := ch.Ordinal()
		if ok && n >= lo && n <= hi {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in range", manga.ErrNoChapters)
	}
	return out, nil
}

func parseBound(raw string, def float64) (float64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chapter number %q", raw)
	}
	return v, nil
}

// getReporter renders worker progress for a foreground download: a bar on a
// terminal, one line per chapter otherwise.
type getReporter struct {
	mu      sync.Mutex
	out     io.Writer
	bar     *progressbar.ProgressBar
	bytes   int64
	skipped []string
}

func newGetReporter(out io.Writer, total int, tty bool) *getReporter {
	r := &getReporter{out: out}
	if tty {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

// Emit implements progress.Emitter.
func (r *getReporter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evt.Stage {
	case progress.StageChapterFetched:
		r.bytes += evt.Bytes
	case progress.StageChapterDelivered:
		r.step(evt.Chapter + " delivered")
	case progress.StageChapterSkipped:
		r.skipped = append(r.skipped, fmt.Sprintf("%s: %s", evt.Chapter, evt.Note))
		r.step(evt.Chapter + " skipped (" + evt.Note + ")")
	}
}

func (r *getReporter) step(line string) {
	if r.bar == nil {
		fmt.Fprintln(r.out, line)
		return
	}
	r.bar.Describe(line)
	_ = r.bar.Add(1)
}

func (r *getReporter) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func (r *getReporter) summary(snap manga.JobSnapshot, dir string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d chapters delivered to %s (%s downloaded)",
		snap.Status, snap.Progress, snap.Total, dir, humanize.Bytes(uint64(max(r.bytes, 0))))
	for _, s := range r.skipped {
		b.WriteString("\n  skipped " + s)
	}
	if snap.Note != "" {
		b.WriteString("\n  " + snap.Note)
	}
	return b.String()
}
