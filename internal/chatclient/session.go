package chatclient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"marketplace-chat/internal/models"
)

// State enumerates the session surface states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateSelected:
		return "selected"
	default:
		return "unknown"
	}
}

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrNoSelection   = errors.New("no conversation selected")
	ErrEmptyDraft    = errors.New("draft is empty")
)

const messagePageSize = 50

// Session is the client-side controller for one open chat surface. It owns
// the selection state, the fetched conversation and message lists, and the
// in-flight draft. All methods are safe for concurrent use; the lock is
// released around network calls, and every fetch result is checked against
// the selection that requested it so superseded responses are discarded.
type Session struct {
	api      API
	userID   int
	selfName string

	mu            sync.Mutex
	state         State
	conversations []models.ConversationSummary
	selected      int
	fetchSeq      int
	messages      []models.Message
	draft         string
	unread        int
	notices       []string
}

// NewSession builds a closed session for the given user.
func NewSession(api API, userID int, selfName string) *Session {
	return &Session{api: api, userID: userID, selfName: selfName}
}

// Open transitions Closed -> Open and fetches the conversation list and the
// unread aggregate. A fetch failure records a notice but the surface stays
// open with whatever data it had.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	s.RefreshConversations(ctx)
	s.RefreshUnread(ctx)
}

// Close transitions to Closed. Server-side state is untouched; only the
// ephemeral selection, messages and draft are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.selected = 0
	s.messages = nil
	s.draft = ""
	s.fetchSeq++
}

// Select makes the conversation current and fetches its messages, then marks
// it read (best-effort) and refreshes the unread aggregate. If the selection
// changes while the fetch is in flight, the stale result is dropped. A failed
// fetch rolls the selection back so the displayed log and the selection never
// disagree.
func (s *Session) Select(ctx context.Context, conversationID int) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prevState := s.state
	prevSelected := s.selected
	s.state = StateSelected
	s.selected = conversationID
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	msgs, err := s.api.ListMessages(ctx, conversationID, messagePageSize, 0)

	s.mu.Lock()
	if s.fetchSeq != seq || s.selected != conversationID {
		// Superseded by a newer selection; discard.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = prevState
		s.selected = prevSelected
		s.appendNotice("could not load conversation")
		s.mu.Unlock()
		return err
	}
	sortMessages(msgs)
	s.messages = msgs
	s.mu.Unlock()

	// Viewing implies reading; a failure here must never block the surface.
	if err := s.api.MarkRead(ctx, conversationID); err != nil {
		logrus.Debugf("mark read failed for conversation %d: %v", conversationID, err)
	}
	s.RefreshUnread(ctx)
	return nil
}

// SetDraft replaces the in-flight input buffer.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// Send submits the draft to the selected conversation. An empty draft (after
// trimming) fails locally without a network call. On success the persisted
// message extends the local log and the draft is cleared; on failure the
// draft is preserved so nothing is lost.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSelected {
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return ErrSessionClosed
		}
		return ErrNoSelection
	}
	text := strings.TrimSpace(s.draft)
	if text == "" {
		s.mu.Unlock()
		return ErrEmptyDraft
	}
	conversationID := s.selected
	seq := s.fetchSeq
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, conversationID, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.appendNotice("message not sent")
		return err
	}
	if s.fetchSeq == seq && s.selected == conversationID {
		s.messages = append(s.messages, msg)
		sortMessages(s.messages)
	}
	s.draft = ""
	return nil
}

// RefreshConversations re-fetches the conversation list. On failure the
// previous list stays in place and a notice is recorded.
func (s *Session) RefreshConversations(ctx context.Context) {
	convs, err := s.api.ListConversations(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if err != nil {
		s.appendNotice("could not load conversations")
		return
	}
	s.conversations = convs
}

// RefreshUnread re-fetches the unread aggregate. Best-effort.
func (s *Session) RefreshUnread(ctx context.Context) {
	count, err := s.api.UnreadCount(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logrus.Debugf("unread refresh failed: %v", err)
		return
	}
	s.unread = count
}

// State reports the current surface state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectedConversation returns the current conversation id, 0 when none.
func (s *Session) SelectedConversation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Conversations returns a copy of the fetched conversation list.
func (s *Session) Conversations() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Messages returns a copy of the selected conversation's message log.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Draft returns the in-flight input buffer.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// UnreadCount returns the last fetched unread aggregate.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// TakeNotices drains and returns the accumulated non-fatal notices.
func (s *Session) TakeNotices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

// GroupedMessages renders the selected conversation's log as contiguous
// same-sender runs, recomputed from raw state on every call.
func (s *Session) GroupedMessages() []MessageGroup {
	s.mu.Lock()
	participants := map[int]Participant{
		s.userID: {ID: s.userID, DisplayName: s.selfName},
	}
	for _, conv := range s.conversations {
		if conv.ConversationID == s.selected {
			participants[conv.OtherUserID] = Participant{ID: conv.OtherUserID, DisplayName: conv.OtherUsername}
			break
		}
	}
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	userID := s.userID
	s.mu.Unlock()

	return GroupMessages(msgs, userID, participants)
}

func (s *Session) appendNotice(text string) {
	s.notices = append(s.notices, text)
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
