package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jw6ventures/calassist/internal/chat"
	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/store"
)

const maxTitleLength = 200

// conversationID reads the {id} parameter. Malformed ids are reported as
// missing conversations.
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httperrors.NotFound(w, r, "conversation")
		return "", false
	}
	return id, true
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	convs, err := h.store.Conversations.ListByOwner(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, "conversations")
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (in titleRequest) clean() string {
	t := strings.TrimSpace(in.Title)
	if r := []rune(t); len(r) > maxTitleLength {
		t = string(r[:maxTitleLength])
	}
	return t
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in titleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
			httperrors.BadRequestError(w, r, err, "invalid conversation payload")
			return
		}
	}
	conv, err := h.store.Conversations.Create(r.Context(), owner, in.clean())
	if err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	httperrors.JSON(w, http.StatusCreated, conv)
}

type conversationResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

// GetConversation returns a conversation with its visible messages.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	conv, err := h.store.Conversations.Get(r.Context(), id, owner)
	if err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	msgs, err := h.store.Messages.List(r.Context(), conv.ID)
	if err != nil {
		h.fail(w, r, err, "messages")
		return
	}
	httperrors.JSON(w, http.StatusOK, conversationResponse{Conversation: conv, Messages: visible(msgs)})
}

// ListMessages returns the conversation transcript in order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.Conversations.Get(r.Context(), id, owner); err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	msgs, err := h.store.Messages.List(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "messages")
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"messages": visible(msgs)})
}

func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var in titleRequest
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid conversation payload")
		return
	}
	title := in.clean()
	if title == "" {
		httperrors.BadRequestError(w, r, nil, "title is required")
		return
	}
	if err := h.store.Conversations.Rename(r.Context(), id, owner, title); err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	conv, err := h.store.Conversations.Get(r.Context(), id, owner)
	if err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	httperrors.JSON(w, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if err := h.store.Conversations.Delete(r.Context(), id, owner); err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Image          string `json:"image"`
}

type chatResponse struct {
	ConversationID string       `json:"conversationId"`
	Title          string       `json:"title"`
	Reply          string       `json:"reply"`
	EventCreated   *store.Event `json:"eventCreated"`
}

// Chat runs one assistant turn. Upstream model failures surface as 502 with
// the provider's status and body.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in chatRequest
	if err := decodeJSON(w, r, maxImageBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid chat payload")
		return
	}
	if in.Image != "" && !validImageURL(in.Image) {
		httperrors.BadRequestError(w, r, nil, "image must be an https or data:image URL")
		return
	}

	res, err := h.chat.Send(r.Context(), owner, chat.SendInput{
		ConversationID: in.ConversationID,
		Text:           in.Message,
		ImageURL:       in.Image,
	})
	if err != nil {
		h.fail(w, r, err, "conversation")
		return
	}
	httperrors.JSON(w, http.StatusOK, chatResponse{
		ConversationID: res.Conversation.ID,
		Title:          res.Conversation.Title,
		Reply:          res.Reply,
		EventCreated:   res.EventCreated,
	})
}

// visible drops tool results, which are kept for the record only.
func visible(msgs []store.Message) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != store.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func validImageURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:image/")
}
