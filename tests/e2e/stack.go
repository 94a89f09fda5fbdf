package e2e

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatterm/internal/api"
	"chatterm/internal/credstore"
	"chatterm/internal/logger"
	"chatterm/internal/state"
	"chatterm/internal/testutil"
)

// Stack is the full client wired against an in-process fake chat
// service, exactly the way the app assembles it, minus the terminal
// shell. Notices collects what the shell would have shown to the user.
type Stack struct {
	Service *testutil.FakeChatService
	Store   *credstore.SQLiteStore
	Client  *api.Client
	Auth    *state.Auth
	Chat    *state.Chat
	Notices *NoticeLog
}

func Start(t *testing.T) *Stack {
	t.Helper()

	service := testutil.NewFakeChatService()
	baseURL := service.Serve(t)
	store := testutil.NewStore(t)
	log := logger.NewNoOpLogger()

	notifier := api.NewExpiryNotifier()
	client, err := api.NewClient(api.Config{
		BaseURL:  baseURL,
		Store:    store,
		Notifier: notifier,
		Logger:   log,
	})
	require.NoError(t, err, "client should be created without errors")

	notices := &NoticeLog{}
	auth := state.NewAuth(client, store, log)
	chat := state.NewChat(client, log, notices.Add)

	notifier.Register(func() {
		auth.ExpireSession()
		chat.Reset()
		notices.Add("Your session has expired. Please log in again.")
	})

	return &Stack{
		Service: service,
		Store:   store,
		Client:  client,
		Auth:    auth,
		Chat:    chat,
		Notices: notices,
	}
}

// NoticeLog records user facing notices in arrival order
type NoticeLog struct {
	mu    sync.Mutex
	texts []string
}

func (n *NoticeLog) Add(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *NoticeLog) All() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}
