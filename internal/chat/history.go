package chat

import (
	"time"
)

// streamingPlaceholder is what the backend stores as the response while a
// reply is still being generated. A record carrying it has no assistant
// message yet.
const streamingPlaceholder = "[流式响应]"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation as the client renders it.
type Message struct {
	ID           int64
	Role         Role
	Text         string
	CreatedAt    time.Time
	AudioSeconds float64
	ImageURL     string
	// Pending marks the optimistic assistant bubble while a reply streams.
	Pending bool
}

// historyRecord is one server-side exchange: the user's message and the
// assistant's (possibly empty or placeholder) response.
type historyRecord struct {
	ID           int64     `json:"id"`
	Message      string    `json:"message"`
	Response     string    `json:"response"`
	CreatedAt    time.Time `json:"createdAt"`
	AudioSeconds float64   `json:"audioDuration,omitempty"`
	ImageURL     string    `json:"imageUrl,omitempty"`
}

type historyResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Histories  []historyRecord `json:"histories"`
	TotalCount int             `json:"totalCount"`
}

// messagesFromHistory expands server records into the rendered message
// list. Each record becomes a user message with id 2*rec.ID-1 and, when a
// real response exists, an assistant message with id 2*rec.ID. Record ids
// are unique and non-decreasing, so the derived ids never collide.
func messagesFromHistory(records []historyRecord) []Message {
	messages := make([]Message, 0, len(records)*2)
	for _, rec := range records {
		messages = append(messages, Message{
			ID:        rec.ID*2 - 1,
			Role:      RoleUser,
			Text:      rec.Message,
			CreatedAt: rec.CreatedAt,
		})
		if rec.Response == "" || rec.Response == streamingPlaceholder {
			continue
		}
		messages = append(messages, Message{
			ID:           rec.ID * 2,
			Role:         RoleAssistant,
			Text:         rec.Response,
			CreatedAt:    rec.CreatedAt,
			AudioSeconds: rec.AudioSeconds,
			ImageURL:     rec.ImageURL,
		})
	}
	return messages
}
