package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/source"
)

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <uri>",
		Short: "Cache a document and register its Book",
		Long: `Copy or download a document into the cache directory and create its
Book, or return the existing Book when the URI was opened before.

Examples:
  lectern open ./dune.epub
  lectern open https://example.com/books/dune.epub --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(rootOpts, args[0], cmd)
		},
	}
}

func runOpen(opts *RootOptions, uri string, cmd *cobra.Command) error {
	logger := opts.logger()
	out := opts.formatter(cmd)

	loader := source.NewLoader(opts.settings().CacheDir, source.WithLogger(logger))
	path, err := loader.Load(cmd.Context(), uri)
	if err != nil {
		_ = out.Error(CodeLoad, "couldn't load the book", err.Error())
		return WrapExitError(ExitCommandError, "failed to load source", err)
	}
	out.VerboseLog("cached %s at %s", uri, path)

	title, err := source.Title(path)
	if err != nil {
		logger.Warn("no title in document", "path", path, "err", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	book, err := st.CreateBook(cmd.Context(), uri, title)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create book", err)
	}

	view := newBookView(book)
	view.Path = path
	return out.Success(view)
}
