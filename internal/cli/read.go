package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/renderer/headless"
	"github.com/roach88/lectern/internal/session"
	"github.com/roach88/lectern/internal/source"
	"github.com/roach88/lectern/internal/translate"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Next       int
	PageBudget int
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <epub>",
		Short: "Read a document with the built-in headless renderer",
		Long: `Open an EPUB with the headless renderer, restore the stored reading
position, optionally turn pages, and print the current page.

The position is persisted, so repeated invocations continue where the
previous one stopped.

Examples:
  lectern read ./dune.epub
  lectern read ./dune.epub --next 3
  lectern read ./dune.epub --next -1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Next, "next", 0, "turn this many pages forward (negative turns back)")
	cmd.Flags().IntVar(&opts.PageBudget, "page-budget", headless.DefaultPageBudget, "characters per page at font size 16")

	return cmd
}

func runRead(opts *ReadOptions, path string, cmd *cobra.Command) error {
	logger := opts.logger()
	cfg := opts.settings()
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	uri, err := filepath.Abs(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid path", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	loader := source.NewLoader(cfg.CacheDir, source.WithLogger(logger))
	cached, err := loader.Load(ctx, uri)
	if err != nil {
		_ = out.Error(CodeLoad, "couldn't load the book", err.Error())
		return WrapExitError(ExitCommandError, "failed to load source", err)
	}
	title, _ := source.Title(cached)
	book, err := st.CreateBook(ctx, uri, title)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create book", err)
	}

	inbox := &headless.Inbox{}
	renderer := headless.New(inbox.Push,
		headless.WithLogger(logger),
		headless.WithPageBudget(opts.PageBudget))

	sopts, pipeline, err := sessionOptions(cfg, st, renderer, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid translation configuration", err)
	}
	sess := session.New(book.ID, st, renderer, sopts...)
	if pipeline != nil {
		defer pipeline.Cancel()
	}

	r := &headlessReader{ctx: ctx, session: sess, inbox: inbox, logger: logger}
	// The document was cached above; the renderer opens the cached copy.
	if err := sess.Open(ctx, session.LoaderFunc(func(context.Context, string) (string, error) {
		return cached, nil
	})); err != nil {
		return WrapExitError(ExitFailure, "failed to open book", err)
	}
	r.drain()
	if sess.Phase() != session.Loaded {
		return NewExitError(ExitFailure, fmt.Sprintf("document did not finish loading (phase %s)", sess.Phase()))
	}

	r.turn(opts.Next)

	// Let the run started for the final page finish before printing it.
	if pipeline != nil {
		waitTranslation(ctx, pipeline)
		r.drain()
	}

	book, err = st.Book(ctx, book.ID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read book", err)
	}
	page, total := renderer.Page()
	return out.Success(pageView{
		Book:  newBookView(book),
		Page:  page,
		Total: total,
		Lines: renderer.Text(),
	})
}

// headlessReader runs a session and the headless renderer on one
// goroutine: every renderer message is handled to completion, including
// the messages produced while handling it.
type headlessReader struct {
	ctx     context.Context
	session *session.Session
	inbox   *headless.Inbox
	logger  *slog.Logger
}

func (r *headlessReader) drain() {
	for {
		m, ok := r.inbox.Pop()
		if !ok {
			return
		}
		r.handle(session.Event{Type: session.EventTypeMessage, Message: m})
	}
}

func (r *headlessReader) handle(e session.Event) {
	if err := r.session.Handle(r.ctx, e); err != nil {
		r.logger.Warn("session event failed", "event", e.Type.String(), "err", err)
	}
	r.drain()
}

func (r *headlessReader) turn(n int) {
	dir := session.Next
	if n < 0 {
		dir, n = session.Prev, -n
	}
	for i := 0; i < n; i++ {
		r.handle(session.Event{Type: session.EventTypePageTurn, Direction: dir})
	}
}

func waitTranslation(ctx context.Context, p *translate.Pipeline) {
	if run := p.Active(); run != nil {
		_ = run.Wait(ctx)
	}
}
