package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/chat"
	"github.com/signalix/chatserver/internal/hub"
	"github.com/signalix/chatserver/internal/middleware"
	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

// ChatHandler serves groups, message history, read receipts and presence
type ChatHandler struct {
	dispatcher *chat.Dispatcher
	registry   *hub.Registry
	log        *zap.SugaredLogger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(dispatcher *chat.Dispatcher, registry *hub.Registry, log *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{
		dispatcher: dispatcher,
		registry:   registry,
		log:        log,
	}
}

// createGroupRequest is the request body for POST /groups
type createGroupRequest struct {
	Name      string  `json:"name" validate:"required"`
	MemberIDs []int64 `json:"member_ids" validate:"dive,gt=0"`
}

// addMemberRequest is the request body for POST /groups/{id}/members
type addMemberRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type groupResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []int64   `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

func newGroupResponse(g model.Group) groupResponse {
	members := g.MemberIDs
	if members == nil {
		members = []int64{}
	}
	return groupResponse{ID: g.ID, Name: g.Name, MemberIDs: members, CreatedAt: g.CreatedAt}
}

type messageResponse struct {
	ID          int64               `json:"id"`
	SenderID    int64               `json:"sender_id"`
	RecipientID *int64              `json:"recipient_id,omitempty"`
	GroupID     *int64              `json:"group_id,omitempty"`
	Message     string              `json:"message"`
	Status      model.MessageStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newMessageResponse(m model.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		Message:     m.Body,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}

func newMessagesResponse(msgs []model.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m))
	}
	return out
}

type presenceResponse struct {
	UserID      int64      `json:"user_id"`
	Status      string     `json:"status"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// HandleCreateGroup handles POST /groups
func (h *ChatHandler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req createGroupRequest
	if !decodeValid(w, r, &req) {
		return
	}

	group, err := h.dispatcher.CreateGroup(r.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		h.respondChatError(w, "create group", err)
		return
	}
	respondJSON(w, http.StatusCreated, newGroupResponse(group))
}

// HandleAddMember handles POST /groups/{id}/members
func (h *ChatHandler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	groupID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	var req addMemberRequest
	if !decodeValid(w, r, &req) {
		return
	}

	group, err := h.dispatcher.AddMember(r.Context(), userID, middleware.GetRole(r.Context()), groupID, req.UserID)
	if err != nil {
		h.respondChatError(w, "add group member", err)
		return
	}
	respondJSON(w, http.StatusOK, newGroupResponse(group))
}

// HandleGroupHistory handles GET /groups/{id}/messages
func (h *ChatHandler) HandleGroupHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	groupID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	q, ok := historyQuery(w, r)
	if !ok {
		return
	}

	msgs, err := h.dispatcher.GroupHistory(r.Context(), userID, groupID, q)
	if err != nil {
		h.respondChatError(w, "group history", err)
		return
	}
	respondJSON(w, http.StatusOK, newMessagesResponse(msgs))
}

// HandleDirectHistory handles GET /messages/direct/{userId}
func (h *ChatHandler) HandleDirectHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	peerID, ok := pathID(r, "userId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	q, ok := historyQuery(w, r)
	if !ok {
		return
	}

	msgs, err := h.dispatcher.DirectHistory(r.Context(), userID, peerID, q)
	if err != nil {
		h.respondChatError(w, "direct history", err)
		return
	}
	respondJSON(w, http.StatusOK, newMessagesResponse(msgs))
}

// HandleMarkRead handles POST /messages/{id}/read
func (h *ChatHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	messageID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := h.dispatcher.MarkRead(r.Context(), userID, messageID)
	if err != nil {
		h.respondChatError(w, "mark read", err)
		return
	}
	respondJSON(w, http.StatusOK, newMessageResponse(msg))
}

// HandlePresence handles GET /presence/{userId}
func (h *ChatHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	resp := presenceResponse{UserID: userID, Status: hub.StatusOffline}
	if c, online := h.registry.Status(userID); online {
		resp.Status = hub.StatusOnline
		connectedAt := c.ConnectedAt
		resp.ConnectedAt = &connectedAt
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleOnlineUsers handles GET /admin/online (admin only)
func (h *ChatHandler) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	conns := h.registry.All()
	ids := make([]int64, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.UserID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	respondJSON(w, http.StatusOK, map[string]interface{}{"count": len(ids), "user_ids": ids})
}

func (h *ChatHandler) respondChatError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidGroupName),
		errors.Is(err, chat.ErrGroupEmpty),
		errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrBodyTooLong),
		errors.Is(err, chat.ErrInvalidTarget):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotGroupMember), errors.Is(err, chat.ErrForbidden):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrGroupNotFound),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrRecipientNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrGroupNameTaken):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.log.Errorw(op+" failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// historyQuery reads ?limit= and ?before= (RFC 3339)
func historyQuery(w http.ResponseWriter, r *http.Request) (model.HistoryQuery, bool) {
	var q model.HistoryQuery
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return q, false
		}
		q.Limit = repo.HistoryLimit(n)
	}
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return q, false
		}
		q.Before = &t
	}
	return q, true
}
