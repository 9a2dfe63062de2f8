package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"meetwise/app/api/mcp"
	"meetwise/app/api/rest"
	"meetwise/app/booking"
	"meetwise/app/client/gcal"
	"meetwise/app/config"
	"meetwise/app/service/composer"
	"meetwise/app/service/conversation"
	"meetwise/app/service/extractor"
	"meetwise/app/service/notify"
	"meetwise/app/service/retention"
	"meetwise/app/service/store"
	"meetwise/app/util/mylog"

	"github.com/samber/do"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "meetwise",
		Usage:   "Conversational meeting scheduler",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "Path to the YAML config",
				EnvVars: []string{"MEETWISE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			mcpCmd(),
			historyCmd(),
			stateCmd(),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// setup loads config, initializes logging and registers every service.
// Services are built lazily, so read-only commands only touch the store.
func setup(c *cli.Context) (*do.Injector, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	if err = mylog.Init(cfg); err != nil {
		return nil, fmt.Errorf("logging init failed: %w", err)
	}

	di := do.New()
	do.ProvideValue(di, c.Context)
	do.ProvideValue(di, cfg)

	do.Provide(di, config.NewBookingPolicy)
	do.Provide(di, store.New)
	do.Provide(di, gcal.NewClient)
	do.Provide(di, extractor.New)
	do.Provide(di, composer.New)
	do.Provide(di, notify.New)
	do.Provide(di, conversation.New)
	do.Provide(di, retention.New)
	do.Provide(di, rest.New)

	return di, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP chat API and the retention job",
		Action: func(c *cli.Context) error {
			di, err := setup(c)
			if err != nil {
				return err
			}
			defer di.Shutdown()

			server, err := do.Invoke[*rest.Server](di)
			if err != nil {
				return err
			}
			retentionSvc := do.MustInvoke[*retention.Service](di)
			notifySvc := do.MustInvoke[*notify.Service](di)

			slog.Info("Service started", "version", Version)

			group, ctx := errgroup.WithContext(c.Context)
			group.Go(func() error {
				return server.Run(ctx)
			})
			group.Go(func() error {
				return retentionSvc.Run(ctx)
			})
			group.Go(func() error {
				notifySvc.Run(ctx)
				return nil
			})

			err = group.Wait()
			slog.Info("Waiting for services to finish...")

			return err
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the booking tools over MCP stdio",
		Action: func(c *cli.Context) error {
			di, err := setup(c)
			if err != nil {
				return err
			}
			defer di.Shutdown()

			if _, err = do.Invoke[*conversation.Service](di); err != nil {
				return err
			}

			go do.MustInvoke[*notify.Service](di).Run(c.Context)

			return mcp.Run(di, Version)
		},
	}
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the stored transcript of a conversation",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("conversation id is required")
			}

			st, cleanup, err := openStore(c)
			if err != nil {
				return err
			}
			defer cleanup()

			messages, err := st.History(c.Context, id)
			if err != nil {
				return err
			}

			return printHistory(os.Stdout, messages)
		},
	}
}

func stateCmd() *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "Print the stored booking state of a conversation as JSON",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("conversation id is required")
			}

			st, cleanup, err := openStore(c)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := st.LoadState(c.Context, id)
			if err != nil {
				return err
			}

			return printJSON(os.Stdout, state)
		},
	}
}

func openStore(c *cli.Context) (store.Store, func(), error) {
	di, err := setup(c)
	if err != nil {
		return nil, nil, err
	}

	st, err := do.Invoke[store.Store](di)
	if err != nil {
		_ = di.Shutdown()
		return nil, nil, err
	}

	return st, func() { _ = di.Shutdown() }, nil
}

func printHistory(w io.Writer, messages []booking.Message) error {
	for _, msg := range messages {
		if _, err := fmt.Fprintf(w, "%s %-9s %s\n", msg.At.Format("2006-01-02 15:04:05"), msg.Role, msg.Text); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
