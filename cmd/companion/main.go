package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/companion/internal/app"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/logging"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/persona"
	"github.com/ent0n29/companion/internal/protocol"
)

const serviceName = "companion"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	envFile  string
	logLevel string
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Conversational companion backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newBenchCmd())
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
			res, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return res.Serve(cmd.Context())
		},
	}
}

// cliEngine builds an engine for local commands, logging to stderr at warn
// unless a level was requested.
func cliEngine(cmd *cobra.Command, opts *rootOptions) (*conversation.Engine, func() error, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.NewTo(cmd.ErrOrStderr(), serviceName, level, cfg.LogFormat)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	engine, store, err := app.BuildEngine(cmd.Context(), cfg, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	return engine, store.Close, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID, personaID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := cliEngine(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			p, _ := engine.Personas().Lookup(personaID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) - session %q. Type /quit to leave.\n", p.DisplayName, p.ID, sessionID)
			return chatLoop(cmd.Context(), engine, cmd.InOrStdin(), cmd.OutOrStdout(), sessionID, p.ID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", protocol.DefaultSessionID, "session id")
	cmd.Flags().StringVar(&personaID, "persona", persona.DefaultID, "persona id")
	return cmd
}

func chatLoop(ctx context.Context, engine *conversation.Engine, in io.Reader, out io.Writer, sessionID, personaID string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		reply, err := engine.Respond(ctx, conversation.Request{SessionID: sessionID, Message: line, PersonaID: personaID})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "[%s] %s\n", reply.Emotion, reply.Text)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		sessionID string
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent turns of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := cliEngine(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			turns, err := engine.History(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}
			return printTurns(cmd.OutOrStdout(), turns, asJSON)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", protocol.DefaultSessionID, "session id")
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultRecentLimit, "number of turns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	return cmd
}

func printTurns(out io.Writer, turns []memory.Turn, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, t := range turns {
			if err := enc.Encode(t); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "%s %-9s [%s] %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.Emotion, t.Content)
	}
	return nil
}

