package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"chatterm/internal/apperrors"
	"chatterm/internal/credstore"
	"chatterm/internal/logger"
	"chatterm/internal/models"
	"chatterm/internal/state"
)

const replHelp = `Commands:
  /login <username> <password>             log in
  /register <email> <username> <password>  create an account and log in
  /logout                                  log out
  /sessions                                list chat sessions
  /new [title]                             start a new chat
  /open <n>                                open session n from the list
  /close                                   leave the current session
  /delete <n>                              delete session n from the list
  /theme [light|dark]                      switch color theme
  /whoami                                  show the logged in user
  /quit                                    exit

Anything not starting with '/' is sent as a message to the open session.`

// repl is the interactive terminal shell. It is deliberately thin: every
// decision lives in the state machines, the shell only parses lines and
// renders state.
type repl struct {
	in     *bufio.Scanner
	out    io.Writer
	auth   *state.Auth
	chat   *state.Chat
	store  credstore.Store
	logger logger.Logger

	// Session order as printed by the last /sessions, so /open <n> and
	// /delete <n> resolve against what the user saw
	listed []models.ChatSession

	user      func(a ...any) string
	assistant func(a ...any) string
	system    func(a ...any) string
	errText   func(a ...any) string
}

func newRepl(in io.Reader, out io.Writer, auth *state.Auth, chat *state.Chat, store credstore.Store, log logger.Logger) *repl {
	return &repl{
		in:        bufio.NewScanner(in),
		out:       out,
		auth:      auth,
		chat:      chat,
		store:     store,
		logger:    log,
		user:      color.New(color.FgGreen, color.Bold).SprintFunc(),
		assistant: color.New(color.FgCyan, color.Bold).SprintFunc(),
		system:    color.New(color.FgYellow).SprintFunc(),
		errText:   color.New(color.FgRed).SprintFunc(),
	}
}

func (r *repl) Run(ctx context.Context) error {
	r.printf("chatterm, a terminal client\n")

	if user, ok := r.auth.User(); ok {
		r.printf("Welcome back, %s. Type /help for commands.\n", r.user(user.Username))
		_ = r.chat.LoadSessions(ctx)
	} else {
		r.printf("Log in with /login <username> <password>, or /register to create an account.\n")
	}

	for {
		r.printf("%s ", r.prompt())
		if !r.in.Scan() {
			return r.in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.dispatch(ctx, line); quit {
				return nil
			}
			continue
		}

		r.sendMessage(ctx, line)
	}
}

// dispatch runs one slash command, reporting whether the shell should exit
func (r *repl) dispatch(ctx context.Context, line string) bool {
	cmd, args := parseCommand(line)

	switch cmd {
	case "help":
		r.printf("%s\n", replHelp)
	case "login":
		r.login(ctx, args)
	case "register":
		r.register(ctx, args)
	case "logout":
		r.auth.Logout(ctx)
		r.chat.Reset()
		r.listed = nil
		r.printf("Logged out.\n")
	case "sessions":
		r.listSessions(ctx)
	case "new":
		r.newSession(ctx, strings.Join(args, " "))
	case "open":
		r.openSession(ctx, args)
	case "close":
		r.chat.ClearSelection()
	case "delete":
		r.deleteSession(ctx, args)
	case "theme":
		r.switchTheme(ctx, args)
	case "whoami":
		r.whoami()
	case "quit", "exit":
		return true
	default:
		r.printf("%s\n", r.errText("Unknown command, try /help"))
	}
	return false
}

func (r *repl) login(ctx context.Context, args []string) {
	if len(args) != 2 {
		r.printf("Usage: /login <username> <password>\n")
		return
	}

	if err := r.auth.Login(ctx, args[0], args[1]); err != nil {
		r.printf("%s\n", r.errText(r.auth.Err()))
		return
	}

	user, _ := r.auth.User()
	r.printf("Welcome, %s.\n", r.user(user.Username))
	_ = r.chat.LoadSessions(ctx)
}

func (r *repl) register(ctx context.Context, args []string) {
	if len(args) != 3 {
		r.printf("Usage: /register <email> <username> <password>\n")
		return
	}

	if err := r.auth.Register(ctx, args[0], args[1], args[2]); err != nil {
		r.printf("%s\n", r.errText(r.auth.Err()))
		return
	}

	user, _ := r.auth.User()
	r.printf("Account created. Welcome, %s.\n", r.user(user.Username))
}

func (r *repl) listSessions(ctx context.Context) {
	if err := r.chat.LoadSessions(ctx); err != nil {
		return
	}

	r.listed = r.chat.Sessions()
	if len(r.listed) == 0 {
		r.printf("No sessions yet, start one with /new.\n")
		return
	}

	current, hasCurrent := r.chat.Current()
	sendingID, sending := r.chat.Sending()

	for i, s := range r.listed {
		marker := " "
		if hasCurrent && s.ID == current.ID {
			marker = "*"
		}

		// A send can be pending for a session other than the open one
		progress := ""
		if sending && s.ID == sendingID {
			progress = r.system(" [replying…]")
		}

		r.printf("%s %2d. %s%s\n", marker, i+1, sessionTitle(s), progress)
	}
}

func (r *repl) newSession(ctx context.Context, title string) {
	if title = strings.TrimSpace(title); title == "" {
		title = "New Chat"
	}

	if err := r.chat.CreateSession(ctx, title); err != nil {
		return
	}
	r.listed = r.chat.Sessions()
	r.printf("Started %q.\n", title)
}

func (r *repl) openSession(ctx context.Context, args []string) {
	id, ok := r.resolveIndex(args)
	if !ok {
		return
	}

	if err := r.chat.SelectSession(ctx, id); err != nil {
		return
	}

	for _, msg := range r.chat.Messages() {
		r.printMessage(msg)
	}
}

func (r *repl) deleteSession(ctx context.Context, args []string) {
	id, ok := r.resolveIndex(args)
	if !ok {
		return
	}

	if err := r.chat.DeleteSession(ctx, id); err != nil {
		return
	}
	r.listed = r.chat.Sessions()
	r.printf("Deleted.\n")
}

func (r *repl) sendMessage(ctx context.Context, content string) {
	err := r.chat.SendMessage(ctx, content)
	switch {
	case err == nil:
		messages := r.chat.Messages()
		if len(messages) > 0 && messages[len(messages)-1].Role == models.RoleAssistant {
			r.printMessage(messages[len(messages)-1])
		}
	case errors.Is(err, apperrors.ErrNoCurrentSession):
		r.printf("Open a session first: /sessions then /open <n>, or /new.\n")
	case errors.Is(err, apperrors.ErrSendInFlight):
		r.printf("Still waiting for the previous reply.\n")
	case errors.Is(err, apperrors.ErrEmptyMessage):
		// Nothing to do
	default:
		// Failure notices are surfaced by the chat machine itself
	}
}

func (r *repl) switchTheme(ctx context.Context, args []string) {
	theme, err := r.store.Theme(ctx)
	if err != nil {
		r.logger.Error("Failed to read theme", "error", err)
		return
	}
	if theme == "" {
		theme = "dark"
	}

	switch {
	case len(args) == 0:
		// Toggle
		if theme == "dark" {
			theme = "light"
		} else {
			theme = "dark"
		}
	case args[0] == "light" || args[0] == "dark":
		theme = args[0]
	default:
		r.printf("Usage: /theme [light|dark]\n")
		return
	}

	if err := r.store.SetTheme(ctx, theme); err != nil {
		r.logger.Error("Failed to save theme", "error", err)
		return
	}
	color.NoColor = theme == "light"
	r.printf("Theme set to %s.\n", theme)
}

func (r *repl) whoami() {
	user, ok := r.auth.User()
	if !ok {
		r.printf("Not logged in.\n")
		return
	}
	r.printf("%s <%s>\n", user.Username, user.Email)
}

func (r *repl) prompt() string {
	user, ok := r.auth.User()
	if !ok {
		return "chatterm>"
	}

	if current, selected := r.chat.Current(); selected {
		return r.user(user.Username) + ":" + sessionTitle(current) + ">"
	}
	return r.user(user.Username) + ">"
}

func (r *repl) printMessage(msg models.Message) {
	switch msg.Role {
	case models.RoleUser:
		r.printf("%s %s\n", r.user("You:"), msg.Content)
	case models.RoleAssistant:
		r.printf("%s %s\n", r.assistant("Assistant:"), msg.Content)
	default:
		r.printf("%s %s\n", r.system("System:"), msg.Content)
	}
}

// resolveIndex maps a 1-based list position to a session id
func (r *repl) resolveIndex(args []string) (uuid.UUID, bool) {
	if len(args) != 1 {
		r.printf("Usage: give a session number from /sessions\n")
		return uuid.Nil, false
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.listed) {
		r.printf("%s\n", r.errText("No such session, run /sessions first"))
		return uuid.Nil, false
	}
	return r.listed[n-1].ID, true
}

func (r *repl) printf(format string, a ...any) {
	fmt.Fprintf(r.out, format, a...)
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:]
}

func sessionTitle(s models.ChatSession) string {
	if s.Title == nil || *s.Title == "" {
		return "Untitled"
	}
	return *s.Title
}
