package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/entity"
)

// NewBookCommand creates the book command group.
func NewBookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Inspect stored Books",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "show <book-id>",
		Short:         "Print a Book",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookShow(rootOpts, args[0], cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch <book-id>",
		Short: "Print a Book and every committed change to it",
		Long: `Print a Book, then print it again after every committed change, until
interrupted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookWatch(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runBookShow(opts *RootOptions, id string, cmd *cobra.Command) error {
	logger := opts.logger()
	out := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	book, err := st.Book(cmd.Context(), id)
	if err != nil {
		return bookError(out, id, err)
	}
	return out.Success(newBookView(book))
}

func runBookWatch(opts *RootOptions, id string, cmd *cobra.Command) error {
	logger := opts.logger()
	out := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	updates, cancel, err := st.Observe(cmd.Context(), id)
	if err != nil {
		return bookError(out, id, err)
	}
	defer cancel()

	for book := range updates {
		if err := out.Success(newBookView(book)); err != nil {
			return err
		}
	}
	return nil
}

func bookError(out *OutputFormatter, id string, err error) error {
	if errors.Is(err, entity.ErrNotFound) {
		_ = out.Error(CodeNotFound, "book not found", map[string]string{"id": id})
		return WrapExitError(ExitCommandError, "book not found", err)
	}
	return WrapExitError(ExitFailure, "failed to read book", err)
}
