package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"chatterm/internal/api"
	"chatterm/internal/credstore"
	"chatterm/internal/logger"
	"chatterm/internal/state"
)

// App wires the client core together: the durable store, the request
// pipeline, both state machines and the terminal shell.
type App struct {
	logger logger.Logger
	store  *credstore.SQLiteStore
	auth   *state.Auth
	chat   *state.Chat
	repl   *repl
}

func NewApp(c *Config, in io.Reader, out io.Writer) (*App, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	statePath, err := c.ResolveStatePath()
	if err != nil {
		return nil, fmt.Errorf("error while resolving state path: %w", err)
	}

	store, err := credstore.NewSQLite(statePath)
	if err != nil {
		return nil, fmt.Errorf("error while opening state store: %w", err)
	}

	notifier := api.NewExpiryNotifier()
	client, err := api.NewClient(api.Config{
		BaseURL:  c.ServerURL,
		Store:    store,
		Notifier: notifier,
		Logger:   log,
		Timeout:  c.Timeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error while creating service client: %w", err)
	}

	warn := color.New(color.FgYellow).FprintlnFunc()
	notice := func(text string) { warn(out, text) }

	auth := state.NewAuth(client, store, log)
	chat := state.NewChat(client, log, notice)

	// Session loss reaches the shell through the single expiry slot: the
	// auth machine demotes itself, chat state is dropped, the user gets
	// one distinct notice.
	notifier.Register(func() {
		auth.ExpireSession()
		chat.Reset()
		notice("Your session has expired. Please log in again.")
	})

	app := &App{
		logger: log,
		store:  store,
		auth:   auth,
		chat:   chat,
	}
	app.repl = newRepl(in, out, auth, chat, store, log)

	return app, nil
}

// Run restores the previous session from the stored tokens, then hands
// control to the interactive shell until EOF, /quit or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	a.auth.Bootstrap(ctx)
	return a.repl.Run(ctx)
}

func (a *App) Close() error {
	return a.store.Close()
}
