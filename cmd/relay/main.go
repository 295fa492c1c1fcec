// Command relay runs the triage, research and summary pipeline from the
// console.
//
// # Configuration
//
// Settings are read from the optional YAML file given with --config and then
// overridden by environment variables:
//
//	RELAY_MODEL_PROVIDER     - openai, anthropic or none (default: "openai")
//	GEMINI_API_KEY           - key for the Gemini OpenAI compatible endpoint
//	OPENAI_API_KEY           - OpenAI key (takes precedence over GEMINI_API_KEY)
//	ANTHROPIC_API_KEY        - Anthropic key
//	RELAY_MODEL_BASE_URL     - model endpoint override
//	RELAY_MODEL              - model identifier
//	RELAY_MODEL_TPM          - model token budget per minute (default: 60000)
//	TAVILY_API_KEY           - Tavily search key (required)
//	RELAY_SEARCH_CACHE_TTL   - search result reuse window (default: "10m")
//	RELAY_STORE              - file, mongo or redis (default: "file")
//	RELAY_STORE_DIR          - snapshot directory of the file store (default: ".")
//	MONGO_URI, MONGO_DATABASE
//	REDIS_URL, REDIS_PASSWORD
//	RELAY_STREAM_PULSE       - publish turn events to Pulse (default: false)
//	RELAY_EVENT_LOG          - persist turn events in Mongo (default: false)
//	RELAY_GUARDRAILS         - judge or rules
//	RELAY_MODEL_TIMEOUT, RELAY_TOOL_TIMEOUT, RELAY_GUARDRAIL_TIMEOUT
//
// # Example
//
//	GEMINI_API_KEY=... TAVILY_API_KEY=... relay chat
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	streampulse "goa.design/relay/features/stream/pulse"
	clientspulse "goa.design/relay/features/stream/pulse/clients/pulse"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Getenv).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	config string
	debug  bool
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Guarded research assistant",
		Long:         "relay routes each query through triage, research and summary stages with guardrails and checkpointed session context.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logs")
	root.AddCommand(
		newChatCmd(&flags, getenv),
		newShowCmd(&flags, getenv),
		newResetCmd(&flags, getenv),
		newWatchCmd(&flags, getenv),
		newLogCmd(&flags, getenv),
	)
	return root
}

// logContext sets up clue logging on ctx.
func logContext(ctx context.Context, debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

func newChatCmd(flags *rootFlags, getenv func(string) string) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive research session",
		Long: `Start an interactive research session.

The session prompts for a user ID and a name. An ID that already has a stored
context is refused unless --resume is given. Type 'exit' to end the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logContext(cmd.Context(), flags.debug)
			cfg, err := LoadConfig(flags.config, getenv)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.Errorf(ctx, err, "shutdown")
				}
			}()
			return newChat(a.rt, a.store, cmd.InOrStdin(), cmd.OutOrStdout(), resume).Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue an existing session")
	return cmd
}

func newShowCmd(flags *rootFlags, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print the stored context of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logContext(cmd.Context(), flags.debug)
			cfg, err := loadStoreConfig(flags.config, getenv)
			if err != nil {
				return err
			}
			a := &app{}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
			store, err := a.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			return show(ctx, store, args[0], cmd.OutOrStdout())
		},
	}
}

func newResetCmd(flags *rootFlags, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Clear the conversation of a user, keeping the user and name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logContext(cmd.Context(), flags.debug)
			cfg, err := loadStoreConfig(flags.config, getenv)
			if err != nil {
				return err
			}
			a := &app{}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
			store, err := a.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			if err := resetSession(ctx, store, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context reset for user %s\n", args[0])
			return nil
		},
	}
}

func newWatchCmd(flags *rootFlags, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <user-id>",
		Short: "Follow the turn events of a user published to Pulse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logContext(cmd.Context(), flags.debug)
			cfg, err := loadStoreConfig(flags.config, getenv)
			if err != nil {
				return err
			}
			a := &app{}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
			rdb, err := a.dialRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
			if err != nil {
				return err
			}
			sub, err := streampulse.NewSubscriber(streampulse.SubscriberOptions{Client: pc})
			if err != nil {
				return err
			}
			return watch(ctx, sub, args[0], cmd.OutOrStdout())
		},
	}
}

func newLogCmd(flags *rootFlags, getenv func(string) string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <user-id>",
		Short: "Replay the turn events of a user stored in the Mongo event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logContext(cmd.Context(), flags.debug)
			cfg, err := loadStoreConfig(flags.config, getenv)
			if err != nil {
				return err
			}
			if cfg.Store.MongoURI == "" {
				return errors.New("the event log requires MONGO_URI")
			}
			a := &app{}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
			l, err := a.openEventLog(ctx, cfg.Store)
			if err != nil {
				return err
			}
			return replay(ctx, l, args[0], limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "page-size", 100, "Events fetched per request")
	return cmd
}

// loadStoreConfig loads the configuration for commands that only read
// sessions or streams: model and search keys are not required.
func loadStoreConfig(path string, getenv func(string) string) (Config, error) {
	return LoadConfig(path, func(key string) string {
		switch key {
		case "RELAY_MODEL_PROVIDER":
			return "none"
		case "TAVILY_API_KEY":
			if v := getenv(key); v != "" {
				return v
			}
			return "unused"
		}
		return getenv(key)
	})
}

// show prints the snapshot of userID as indented JSON.
func show(ctx context.Context, store session.Store, userID string, w io.Writer) error {
	c, err := store.Load(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no context stored for user %q", userID)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// resetSession clears the query, history and steps of userID and checkpoints
// the result.
func resetSession(ctx context.Context, store session.Store, userID string) error {
	c, err := store.Load(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no context stored for user %q", userID)
	}
	if err != nil {
		return err
	}
	c.Reset()
	return store.Checkpoint(ctx, c)
}

// eventReader pages through stored turn events.
type eventReader interface {
	Events(ctx context.Context, userID, cursor string, limit int) ([]stream.Event, string, error)
}

// replay prints every stored event of userID in order.
func replay(ctx context.Context, r eventReader, userID string, pageSize int, w io.Writer) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	cursor := ""
	for {
		events, next, err := r.Events(ctx, userID, cursor, pageSize)
		if err != nil {
			return err
		}
		for _, e := range events {
			printEvent(w, e)
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// watch prints the events of userID until ctx is canceled.
func watch(ctx context.Context, sub *streampulse.Subscriber, userID string, w io.Writer) error {
	events, errs, cancel, err := sub.Subscribe(ctx, streampulse.StreamName(userID))
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(w, e)
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			if !ok {
				errs = nil
			}
		}
	}
}
