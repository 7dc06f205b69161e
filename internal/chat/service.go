// Package chat is the domain layer over the API client: login, character
// browsing, history, and the streamed message exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/lyra-chat/lyra-cli/internal/api"
	"github.com/lyra-chat/lyra-cli/internal/authstore"
	"github.com/lyra-chat/lyra-cli/internal/stream"
)

// ErrEmptyMessage rejects sends with nothing to say.
var ErrEmptyMessage = errors.New("message is empty")

// Service bundles the backend operations the commands need.
type Service struct {
	api   *api.Client
	store authstore.Store
	log   *slog.Logger
}

func NewService(client *api.Client, store authstore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{api: client, store: store, log: log}
}

// SessionID derives the deterministic stream routing id for a character
// conversation: user_{uid}_character_{characterID}.
func (s *Service) SessionID(characterID int64) string {
	return fmt.Sprintf("user_%s_character_%d", s.store.User().UID(), characterID)
}

type loginResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	User    *authstore.User `json:"user"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// Login authenticates with the backend and persists the session.
func (s *Service) Login(ctx context.Context, email, password string) (*authstore.User, error) {
	body := map[string]string{"email": email, "password": password}
	var out loginResponse
	if err := s.api.Post(ctx, endpointLogin, body, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Token == "" {
		return nil, fmt.Errorf("login failed: %s", serverMessage(out.Message, out.Error))
	}
	if err := s.store.SaveLogin(out.Token, out.User); err != nil {
		return nil, fmt.Errorf("failed to persist login: %w", err)
	}
	return out.User, nil
}

// Logout tells the server best-effort and always clears local auth state.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.api.Post(ctx, endpointLogout, nil, nil, nil); err != nil {
		// Cleanup is best-effort; a dead server must not keep us logged in.
		s.log.Debug("logout request failed", "error", err)
	}
	return s.store.Clear()
}

// Character is a browsable companion persona.
type Character struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AvatarURL   string   `json:"avatarUrl"`
	Tags        []string `json:"tags"`
}

type charactersResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Error      string      `json:"error"`
	Characters []Character `json:"characters"`
}

// Characters lists the available personas, optionally filtered by tags.
func (s *Service) Characters(ctx context.Context, tags []string) ([]Character, error) {
	var opts *api.RequestOptions
	if len(tags) > 0 {
		q := url.Values{"tag": tags}
		opts = &api.RequestOptions{Query: q}
	}
	var out charactersResponse
	if err := s.api.Get(ctx, endpointCharacters, opts, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("failed to list characters: %s", serverMessage(out.Message, out.Error))
	}
	return out.Characters, nil
}

// Character fetches a single persona by id.
func (s *Service) Character(ctx context.Context, id int64) (*Character, error) {
	var out struct {
		Success   bool       `json:"success"`
		Message   string     `json:"message"`
		Error     string     `json:"error"`
		Character *Character `json:"character"`
	}
	if err := s.api.Get(ctx, endpointCharacters+"/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Character == nil {
		return nil, fmt.Errorf("failed to fetch character: %s", serverMessage(out.Message, out.Error))
	}
	return out.Character, nil
}

// History fetches the authoritative conversation for a character and
// expands it into the rendered message list.
func (s *Service) History(ctx context.Context, characterID int64) ([]Message, error) {
	opts := &api.RequestOptions{Query: url.Values{
		"characterId": []string{strconv.FormatInt(characterID, 10)},
	}}
	var out historyResponse
	if err := s.api.Get(ctx, endpointHistory, opts, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("failed to fetch history: %s", serverMessage(out.Message, out.Error))
	}
	return messagesFromHistory(out.Histories), nil
}

// ClearHistory wipes the conversation server-side. Clearing an already
// empty history is not an error.
func (s *Service) ClearHistory(ctx context.Context, characterID int64) error {
	opts := &api.RequestOptions{Query: url.Values{
		"characterId": []string{strconv.FormatInt(characterID, 10)},
	}}
	return s.api.Delete(ctx, endpointHistory, opts, nil)
}

// SendMessage streams a reply for text, invoking onChunk for each content
// event in arrival order, then reconciles against server history. The
// returned messages replace any optimistic local state; the stream is not
// guaranteed to match what the server persisted.
func (s *Service) SendMessage(ctx context.Context, characterID int64, text string, onChunk func(string)) ([]Message, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	req := stream.Request{
		UserID:    s.store.User().UID(),
		SessionID: s.SessionID(characterID),
		Message:   text,
	}
	session, err := stream.Open(ctx, s.api, endpointStream, req)
	if err != nil {
		return nil, err
	}
	defer session.Cancel()

	for ev := range session.Events() {
		switch {
		case ev.Done:
			return s.History(ctx, characterID)
		case ev.Cancelled:
			return nil, &api.APIError{Kind: api.ErrCancelled, Message: "request cancelled"}
		case ev.Err != nil:
			return nil, &api.APIError{Kind: api.ErrStream, Message: ev.Err.Error()}
		default:
			if onChunk != nil {
				onChunk(ev.Content)
			}
		}
	}

	// Channel closed without a terminal event: the session was cancelled
	// while nobody was listening.
	return nil, &api.APIError{Kind: api.ErrCancelled, Message: "request cancelled"}
}

func serverMessage(message, fallback string) string {
	if message != "" {
		return message
	}
	if fallback != "" {
		return fallback
	}
	return "unknown error"
}
