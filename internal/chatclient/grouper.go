package chatclient

import (
	"strings"
	"unicode/utf8"

	"marketplace-chat/internal/models"
)

// Participant carries the display metadata of one conversation member.
type Participant struct {
	ID          int
	DisplayName string
}

// MessageGroup is a contiguous run of messages from one sender.
type MessageGroup struct {
	SenderID    int
	IsSelf      bool
	DisplayName string
	Initial     string
	Messages    []models.Message
}

// GroupMessages walks an ordered message sequence once and starts a new group
// whenever the sender changes. Pure and deterministic: the same input always
// yields the same grouping.
func GroupMessages(msgs []models.Message, currentUserID int, participants map[int]Participant) []MessageGroup {
	if len(msgs) == 0 {
		return nil
	}

	var groups []MessageGroup
	for _, m := range msgs {
		if len(groups) == 0 || groups[len(groups)-1].SenderID != m.SenderID {
			name := participants[m.SenderID].DisplayName
			groups = append(groups, MessageGroup{
				SenderID:    m.SenderID,
				IsSelf:      m.SenderID == currentUserID,
				DisplayName: name,
				Initial:     initialOf(name),
			})
		}
		last := len(groups) - 1
		groups[last].Messages = append(groups[last].Messages, m)
	}
	return groups
}

func initialOf(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(trimmed)
	return strings.ToUpper(string(r))
}
