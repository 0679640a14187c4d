package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/config"
	"github.com/roach88/lectern/internal/session"
	"github.com/roach88/lectern/internal/source"
)

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session <book-id>",
		Short: "Run a reading session against a renderer on stdin/stdout",
		Long: `Run the reading session for a Book. The renderer speaks JSON lines:
messages are read from stdin, commands are written to stdout.

Edits to the reading block of the config file are applied while the
session runs. The session ends when stdin closes or on Ctrl-C.

Example:
  renderer | lectern session 0190c1e2-... --db ./lectern.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(rootOpts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd)
		},
	}
}

func runSession(opts *RootOptions, bookID string, in io.Reader, out io.Writer, cmd *cobra.Command) error {
	logger := opts.logger()
	cfg := opts.settings()

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	if _, err := st.Book(cmd.Context(), bookID); err != nil {
		return bookError(opts.formatter(cmd), bookID, err)
	}

	conn := bridge.NewConn(in, out, logger)
	sopts, _, err := sessionOptions(cfg, st, conn, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid translation configuration", err)
	}
	errOut := cmd.ErrOrStderr()
	sopts = append(sopts, session.WithNotifier(session.NotifierFunc(func(_ context.Context, title, message string) {
		fmt.Fprintf(errOut, "%s: %s\n", title, message)
	})))
	sess := session.New(bookID, st, conn, sopts...)

	if opts.Config != nil && opts.Config.ConfigFile() != "" {
		watchReading(opts.Config, sess, logger)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loader := source.NewLoader(cfg.CacheDir, source.WithLogger(logger))
	if err := sess.Open(ctx, loader); err != nil {
		return WrapExitError(ExitFailure, "failed to open book", err)
	}

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- conn.Receive(ctx, sess.Deliver)
		// Renderer gone: drain what it sent and stop.
		sess.Stop()
	}()

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "session error", err)
	}
	cancel()
	if err := <-recvErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "renderer stream error", err)
	}
	logger.Info("session ended", "book", bookID)
	return nil
}

// watchReading forwards changes of the reading block to the session.
func watchReading(mgr *config.Manager, sess *session.Session, logger *slog.Logger) {
	mgr.OnError(func(err error) {
		logger.Warn("config reload rejected", "err", err)
	})
	mgr.OnChange(func(old, cfg *config.Config) {
		if old.Reading == cfg.Reading {
			return
		}
		// Fails only once the session has stopped.
		_ = sess.ChangeSettings(cfg.Reading.Settings())
	})
	mgr.WatchConfig()
	logger.Info("watching config", "file", mgr.ConfigFile())
}
