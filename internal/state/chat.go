package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatterm/internal/apperrors"
	"chatterm/internal/logger"
	"chatterm/internal/models"
)

const sendFailedText = "Failed to send message. Please try again."

// chatAPI is the slice of the service client the chat machine needs
type chatAPI interface {
	ListSessions(ctx context.Context) ([]models.ChatSession, error)
	CreateSession(ctx context.Context, title *string) (models.ChatSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (models.ChatSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	SendMessage(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error)
}

// Chat reconciles the remote session and message lists with local
// optimistic edits. It owns the session list, the currently selected
// session, its displayed messages and the send marker.
//
// The displayed list only ever accepts messages whose ChatSessionID
// matches the selected session at the moment they arrive. A reply for a
// session the user has since left is silently dropped, not queued.
type Chat struct {
	api    chatAPI
	logger logger.Logger

	// notify surfaces user facing failure notices; nil means no UI hooked up
	notify func(text string)

	mu       sync.Mutex
	sessions []models.ChatSession
	current  *models.ChatSession
	messages []models.Message
	loading  bool

	// Send marker. sendingID is meaningful only while sending is true and
	// names the session the in-flight send belongs to, which is not
	// necessarily the displayed one.
	sending   bool
	sendingID uuid.UUID
}

func NewChat(api chatAPI, log logger.Logger, notify func(text string)) *Chat {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Chat{
		api:    api,
		logger: log,
		notify: notify,
	}
}

// LoadSessions replaces the local session list wholesale. The current
// selection is left untouched.
func (c *Chat) LoadSessions(ctx context.Context) error {
	c.setLoading(true)
	defer c.setLoading(false)

	sessions, err := c.api.ListSessions(ctx)
	if err != nil {
		c.notifyUnlessExpired(err, "Failed to load sessions")
		return err
	}

	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	return nil
}

// SelectSession fetches the full session including messages and makes it
// the displayed one.
func (c *Chat) SelectSession(ctx context.Context, id uuid.UUID) error {
	c.setLoading(true)
	defer c.setLoading(false)

	session, err := c.api.GetSession(ctx, id)
	if err != nil {
		c.notifyUnlessExpired(err, "Failed to load session")
		return err
	}

	c.mu.Lock()
	c.current = &session
	c.messages = append([]models.Message(nil), session.Messages...)
	c.mu.Unlock()
	return nil
}

// ClearSelection deselects whatever session is displayed. Always leaves
// the machine with no current session and an empty displayed list.
func (c *Chat) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	c.messages = nil
}

// CreateSession creates a session remotely, prepends it to the local
// list (most recent first) and selects it.
func (c *Chat) CreateSession(ctx context.Context, title string) error {
	var titlePtr *string
	if title = strings.TrimSpace(title); title != "" {
		titlePtr = &title
	}

	session, err := c.api.CreateSession(ctx, titlePtr)
	if err != nil {
		c.notifyUnlessExpired(err, "Failed to create session")
		return err
	}

	c.mu.Lock()
	c.sessions = append([]models.ChatSession{session}, c.sessions...)
	c.mu.Unlock()

	return c.SelectSession(ctx, session.ID)
}

// DeleteSession deletes remotely and removes the session locally. If it
// was the displayed one the selection and the message list are cleared.
func (c *Chat) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := c.api.DeleteSession(ctx, id); err != nil {
		c.notifyUnlessExpired(err, "Failed to delete session")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	c.sessions = kept

	if c.current != nil && c.current.ID == id {
		c.current = nil
		c.messages = nil
	}
	return nil
}

// SendMessage runs the optimistic send sequence: the synthesized user
// message is appended before the remote call, the assistant reply (or a
// synthetic failure message) after it, and the send marker is always
// cleared at the end. Only one send may be in flight across the whole
// client at a time.
func (c *Chat) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperrors.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return apperrors.ErrNoCurrentSession
	}
	if c.sending {
		c.mu.Unlock()
		return apperrors.ErrSendInFlight
	}

	sessionID := c.current.ID

	// Optimistic insert of the locally identified user message
	c.appendLocked(models.Message{
		ID:            uuid.New(),
		ChatSessionID: sessionID,
		Content:       content,
		Role:          models.RoleUser,
		CreatedAt:     time.Now(),
	})

	c.sending = true
	c.sendingID = sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.sendingID = uuid.Nil
		c.mu.Unlock()
	}()

	reply, err := c.api.SendMessage(ctx, sessionID, content)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSessionExpired) {
			c.notifyText("Failed to send message")
			c.append(models.Message{
				ID:            uuid.New(),
				ChatSessionID: sessionID,
				Content:       sendFailedText,
				Role:          models.RoleAssistant,
				CreatedAt:     time.Now(),
			})
		}
		return err
	}

	c.append(reply)
	return nil
}

func (c *Chat) Sessions() []models.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatSession(nil), c.sessions...)
}

// Current returns the displayed session, if any
func (c *Chat) Current() (models.ChatSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return models.ChatSession{}, false
	}
	return *c.current, true
}

func (c *Chat) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

func (c *Chat) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Sending reports whether a send is in flight and for which session
func (c *Chat) Sending() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendingID, c.sending
}

// Reset drops all local chat state, e.g. on logout
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = nil
	c.current = nil
	c.messages = nil
	c.loading = false
	c.sending = false
	c.sendingID = uuid.Nil
}

// append applies the insertion rule: a message lands in the displayed
// list only when it belongs to the session displayed right now.
func (c *Chat) append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
}

func (c *Chat) appendLocked(msg models.Message) {
	if c.current == nil || c.current.ID != msg.ChatSessionID {
		c.logger.Debug("Dropping message for non-displayed session", "session_id", msg.ChatSessionID)
		return
	}
	c.messages = append(c.messages, msg)
}

func (c *Chat) setLoading(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = v
}

// notifyUnlessExpired surfaces a failure notice except when the failure
// is a session expiry in disguise: the app is about to navigate back to
// login, a second message would just double up.
func (c *Chat) notifyUnlessExpired(err error, text string) {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return
	}
	c.notifyText(text)
}

func (c *Chat) notifyText(text string) {
	if c.notify != nil {
		c.notify(text)
	}
}
