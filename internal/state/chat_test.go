package state_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chatterm/internal/apperrors"
	"chatterm/internal/models"
	"chatterm/internal/state"
)

// stubChatAPI lets tests control every remote interaction precisely,
// including blocking a send mid-flight.
type stubChatAPI struct {
	mu        sync.Mutex
	sessions  []models.ChatSession
	byID      map[uuid.UUID]models.ChatSession
	sendCalls int

	// sendFn answers SendMessage; nil means echo an assistant reply
	sendFn func(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error)
}

func newStubAPI(sessions ...models.ChatSession) *stubChatAPI {
	s := &stubChatAPI{byID: make(map[uuid.UUID]models.ChatSession)}
	for _, session := range sessions {
		s.sessions = append(s.sessions, session)
		s.byID[session.ID] = session
	}
	return s
}

func (s *stubChatAPI) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatSession(nil), s.sessions...), nil
}

func (s *stubChatAPI) CreateSession(ctx context.Context, title *string) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := models.ChatSession{ID: uuid.New(), UserID: uuid.New(), Title: title}
	s.sessions = append([]models.ChatSession{session}, s.sessions...)
	s.byID[session.ID] = session
	return session, nil
}

func (s *stubChatAPI) GetSession(ctx context.Context, id uuid.UUID) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok {
		return models.ChatSession{}, apperrors.ErrSessionNotFound
	}
	return session, nil
}

func (s *stubChatAPI) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, id)
	kept := s.sessions[:0]
	for _, session := range s.sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	s.sessions = kept
	return nil
}

func (s *stubChatAPI) SendMessage(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
	s.mu.Lock()
	s.sendCalls++
	fn := s.sendFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, sessionID, content)
	}
	return models.Message{
		ID:            uuid.New(),
		ChatSessionID: sessionID,
		Content:       "reply to " + content,
		Role:          models.RoleAssistant,
		CreatedAt:     time.Now(),
	}, nil
}

func (s *stubChatAPI) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

func session(title string, messages ...models.Message) models.ChatSession {
	id := uuid.New()
	for i := range messages {
		messages[i].ChatSessionID = id
	}
	return models.ChatSession{
		ID:       id,
		UserID:   uuid.New(),
		Title:    &title,
		Messages: messages,
	}
}

func message(role string, content string) models.Message {
	return models.Message{
		ID:        uuid.New(),
		Content:   content,
		Role:      role,
		CreatedAt: time.Now(),
	}
}

func TestChat_LoadSessions(t *testing.T) {
	t.Parallel()

	t.Run("replaces list wholesale", func(t *testing.T) {
		stub := newStubAPI(session("one"), session("two"))
		chat := state.NewChat(stub, nil, nil)

		require.NoError(t, chat.LoadSessions(t.Context()))
		require.Len(t, chat.Sessions(), 2)
	})

	t.Run("does not touch the current selection", func(t *testing.T) {
		first := session("one")
		stub := newStubAPI(first)
		chat := state.NewChat(stub, nil, nil)

		require.NoError(t, chat.SelectSession(t.Context(), first.ID))
		require.NoError(t, chat.LoadSessions(t.Context()))

		current, ok := chat.Current()
		require.True(t, ok, "selection should survive a list reload")
		require.Equal(t, first.ID, current.ID)
	})
}

func TestChat_SelectSession(t *testing.T) {
	t.Parallel()

	t.Run("loads the session messages", func(t *testing.T) {
		s := session("talk", message(models.RoleUser, "hi"), message(models.RoleAssistant, "hello"))
		stub := newStubAPI(s)
		chat := state.NewChat(stub, nil, nil)

		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		current, ok := chat.Current()
		require.True(t, ok)
		require.Equal(t, s.ID, current.ID)
		require.Len(t, chat.Messages(), 2)
	})

	t.Run("switch replaces the displayed messages", func(t *testing.T) {
		a := session("a", message(models.RoleUser, "in a"))
		b := session("b")
		stub := newStubAPI(a, b)
		chat := state.NewChat(stub, nil, nil)

		require.NoError(t, chat.SelectSession(t.Context(), a.ID))
		require.Len(t, chat.Messages(), 1)

		require.NoError(t, chat.SelectSession(t.Context(), b.ID))
		require.Empty(t, chat.Messages(), "messages belong to exactly one session")
	})

	t.Run("clear always empties selection and messages", func(t *testing.T) {
		s := session("talk", message(models.RoleUser, "hi"))
		stub := newStubAPI(s)
		chat := state.NewChat(stub, nil, nil)

		require.NoError(t, chat.SelectSession(t.Context(), s.ID))
		chat.ClearSelection()

		_, ok := chat.Current()
		require.False(t, ok)
		require.Empty(t, chat.Messages())

		// Clearing twice is fine too
		chat.ClearSelection()
		_, ok = chat.Current()
		require.False(t, ok)
	})
}

func TestChat_CreateSession(t *testing.T) {
	t.Parallel()

	stub := newStubAPI(session("older"))
	chat := state.NewChat(stub, nil, nil)
	require.NoError(t, chat.LoadSessions(t.Context()))

	require.NoError(t, chat.CreateSession(t.Context(), "fresh"))

	sessions := chat.Sessions()
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].Title)
	require.Equal(t, "fresh", *sessions[0].Title, "new session should be prepended")

	current, ok := chat.Current()
	require.True(t, ok, "new session becomes the selection")
	require.Equal(t, sessions[0].ID, current.ID)
}

func TestChat_DeleteSession(t *testing.T) {
	t.Parallel()

	t.Run("deleting the displayed session clears it", func(t *testing.T) {
		s := session("doomed", message(models.RoleUser, "hi"))
		stub := newStubAPI(s)
		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.LoadSessions(t.Context()))
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		require.NoError(t, chat.DeleteSession(t.Context(), s.ID))

		require.Empty(t, chat.Sessions())
		_, ok := chat.Current()
		require.False(t, ok)
		require.Empty(t, chat.Messages())
	})

	t.Run("deleting another session keeps the selection", func(t *testing.T) {
		keep := session("keep")
		drop := session("drop")
		stub := newStubAPI(keep, drop)
		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.LoadSessions(t.Context()))
		require.NoError(t, chat.SelectSession(t.Context(), keep.ID))

		require.NoError(t, chat.DeleteSession(t.Context(), drop.ID))

		current, ok := chat.Current()
		require.True(t, ok)
		require.Equal(t, keep.ID, current.ID)

		sessions := chat.Sessions()
		require.Len(t, sessions, 1)
		require.Equal(t, keep.ID, sessions[0].ID)
	})
}

func TestChat_SendMessage(t *testing.T) {
	t.Parallel()

	t.Run("success appends user then assistant", func(t *testing.T) {
		s := session("talk")
		stub := newStubAPI(s)
		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		require.NoError(t, chat.SendMessage(t.Context(), "hello"))

		messages := chat.Messages()
		require.Len(t, messages, 2, "optimistic user message plus assistant reply")
		require.Equal(t, models.RoleUser, messages[0].Role)
		require.Equal(t, "hello", messages[0].Content)
		require.Equal(t, models.RoleAssistant, messages[1].Role)

		_, sending := chat.Sending()
		require.False(t, sending, "marker must be cleared")
	})

	t.Run("whitespace only content is a no-op", func(t *testing.T) {
		s := session("talk")
		stub := newStubAPI(s)
		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		err := chat.SendMessage(t.Context(), "   \t ")

		require.ErrorIs(t, err, apperrors.ErrEmptyMessage)
		require.Empty(t, chat.Messages(), "no optimistic insert")
		require.Equal(t, 0, stub.sendCount(), "no remote call")
	})

	t.Run("no selection is a no-op", func(t *testing.T) {
		stub := newStubAPI()
		chat := state.NewChat(stub, nil, nil)

		err := chat.SendMessage(t.Context(), "hello")

		require.ErrorIs(t, err, apperrors.ErrNoCurrentSession)
		require.Equal(t, 0, stub.sendCount())
	})

	t.Run("second send is rejected while one is in flight", func(t *testing.T) {
		s := session("talk")
		stub := newStubAPI(s)

		release := make(chan struct{})
		stub.sendFn = func(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
			<-release
			return models.Message{ID: uuid.New(), ChatSessionID: sessionID, Content: "done", Role: models.RoleAssistant}, nil
		}

		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		done := make(chan error, 1)
		go func() { done <- chat.SendMessage(t.Context(), "first") }()

		require.Eventually(t, func() bool {
			_, sending := chat.Sending()
			return sending
		}, time.Second, time.Millisecond, "first send should be marked in flight")

		err := chat.SendMessage(t.Context(), "second")
		require.ErrorIs(t, err, apperrors.ErrSendInFlight)
		require.Equal(t, 1, stub.sendCount(), "second send must not reach the service")

		close(release)
		require.NoError(t, <-done)
	})

	t.Run("failure appends synthetic assistant error message", func(t *testing.T) {
		s := session("talk")
		stub := newStubAPI(s)
		stub.sendFn = func(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
			return models.Message{}, apperrors.ErrSessionNotFound
		}

		var notices []string
		chat := state.NewChat(stub, nil, func(text string) { notices = append(notices, text) })
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		err := chat.SendMessage(t.Context(), "hello")
		require.Error(t, err)

		messages := chat.Messages()
		require.Len(t, messages, 2)
		require.Equal(t, models.RoleUser, messages[0].Role, "optimistic user message stays")
		require.Equal(t, models.RoleAssistant, messages[1].Role)
		require.Equal(t, "Failed to send message. Please try again.", messages[1].Content)

		require.Equal(t, []string{"Failed to send message"}, notices)

		_, sending := chat.Sending()
		require.False(t, sending, "marker must be cleared on failure too")
	})

	t.Run("session expiry is silent", func(t *testing.T) {
		s := session("talk")
		stub := newStubAPI(s)
		stub.sendFn = func(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
			return models.Message{}, apperrors.ErrSessionExpired
		}

		var notices []string
		chat := state.NewChat(stub, nil, func(text string) { notices = append(notices, text) })
		require.NoError(t, chat.SelectSession(t.Context(), s.ID))

		err := chat.SendMessage(t.Context(), "hello")

		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.Len(t, chat.Messages(), 1, "only the optimistic user message")
		require.Empty(t, notices, "the app is about to navigate away, say nothing")

		_, sending := chat.Sending()
		require.False(t, sending)
	})

	t.Run("marker tracks the originating session across a switch", func(t *testing.T) {
		a := session("a")
		b := session("b")
		stub := newStubAPI(a, b)

		release := make(chan struct{})
		stub.sendFn = func(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
			<-release
			return models.Message{
				ID:            uuid.New(),
				ChatSessionID: sessionID,
				Content:       "late reply",
				Role:          models.RoleAssistant,
			}, nil
		}

		chat := state.NewChat(stub, nil, nil)
		require.NoError(t, chat.SelectSession(t.Context(), a.ID))

		done := make(chan error, 1)
		go func() { done <- chat.SendMessage(t.Context(), "for a") }()

		require.Eventually(t, func() bool {
			_, sending := chat.Sending()
			return sending
		}, time.Second, time.Millisecond)

		// User navigates away mid flight
		require.NoError(t, chat.SelectSession(t.Context(), b.ID))

		sendingID, sending := chat.Sending()
		require.True(t, sending, "switch must not cancel the in-flight send")
		require.Equal(t, a.ID, sendingID, "marker stays bound to the originating session")

		close(release)
		require.NoError(t, <-done)

		// The late reply belongs to session a, which is no longer
		// displayed: it is silently dropped, not queued
		require.Empty(t, chat.Messages())

		_, sending = chat.Sending()
		require.False(t, sending)
	})
}

func TestChat_Reset(t *testing.T) {
	t.Parallel()

	s := session("talk", message(models.RoleUser, "hi"))
	stub := newStubAPI(s)
	chat := state.NewChat(stub, nil, nil)
	require.NoError(t, chat.LoadSessions(t.Context()))
	require.NoError(t, chat.SelectSession(t.Context(), s.ID))

	chat.Reset()

	require.Empty(t, chat.Sessions())
	require.Empty(t, chat.Messages())
	_, ok := chat.Current()
	require.False(t, ok)
}
