package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/auth"
	"github.com/signalix/chatserver/internal/chat"
	"github.com/signalix/chatserver/internal/hub"
	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

// Error codes carried by error events
const (
	CodeTokenMissing = "TOKEN_MISSING"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

const sendTimeout = 10 * time.Second

// TokenVerifier verifies access tokens presented at connect time
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

// Sender routes an inbound message
type Sender interface {
	Send(ctx context.Context, senderID int64, target chat.Target, body string) (model.Message, error)
}

// SendMessageRequest is the data of an inbound sendMessage event
type SendMessageRequest struct {
	GroupID    *int64 `json:"groupId"`
	ReceiverID *int64 `json:"receiverId"`
	Message    string `json:"message"`
}

// MessageSent is the data of a messageSent acknowledgement
type MessageSent struct {
	Message chat.MessagePayload `json:"message"`
}

// Handler upgrades HTTP requests to authenticated chat connections
type Handler struct {
	tokens   TokenVerifier
	users    repo.UserRepo
	sender   Sender
	presence *hub.Presence
	upgrader websocket.Upgrader
	bufSize  int
	log      *zap.SugaredLogger
}

// NewHandler creates a new gateway handler. bufSize bounds each connection's outbound queue.
func NewHandler(tokens TokenVerifier, users repo.UserRepo, sender Sender, presence *hub.Presence, bufSize int, log *zap.SugaredLogger) *Handler {
	return &Handler{
		tokens:   tokens,
		users:    users,
		sender:   sender,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bufSize: bufSize,
		log:     log,
	}
}

// Authenticate extracts and verifies the bearer token of a connect request.
// The token comes from the Authorization header or, for browsers, the token query parameter.
func Authenticate(tokens TokenVerifier, r *http.Request) (*auth.Claims, error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return nil, auth.ErrTokenInvalid
		}
		token = strings.TrimSpace(value)
	} else {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return tokens.VerifyAccess(token)
}

// ErrorCode maps an authentication failure onto its wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return CodeTokenMissing
	case errors.Is(err, auth.ErrTokenExpired):
		return CodeTokenExpired
	default:
		return CodeInvalidToken
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "error", err)
		return
	}

	claims, err := Authenticate(h.tokens, r)
	if err != nil {
		h.reject(ws, ErrorCode(err), err.Error())
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil || !user.Active {
		h.reject(ws, CodeInvalidToken, "account not available")
		return
	}

	client := newClient(ws, user.ID, user.Username, h.bufSize, h.log)
	h.presence.Connected(r.Context(), client)
	client.log.Infow("client connected")

	go client.writePump()
	client.readPump(func(frame inboundFrame) {
		h.handleFrame(client, frame)
	})

	// The request context is gone once the peer hangs up.
	h.presence.Disconnected(context.Background(), client)
	client.log.Infow("client disconnected")
}

// reject reports an authentication failure and closes; the registry is never touched
func (h *Handler) reject(ws *websocket.Conn, code, message string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteJSON(hub.NewErrorEvent(code, message))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	_ = ws.Close()
}

func (h *Handler) handleFrame(c *Client, frame inboundFrame) {
	switch frame.Event {
	case hub.EventSendMessage:
		h.handleSendMessage(c, frame.Data)
	default:
		_ = c.Send(hub.NewErrorEvent(CodeValidation, "unknown event "+frame.Event))
	}
}

func (h *Handler) handleSendMessage(c *Client, data json.RawMessage) {
	var req SendMessageRequest
	if len(data) == 0 {
		_ = c.Send(hub.NewErrorEvent(CodeValidation, "missing data"))
		return
	}
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.Send(hub.NewErrorEvent(CodeValidation, "malformed sendMessage payload"))
		return
	}
	target, err := chat.ParseTarget(req.ReceiverID, req.GroupID)
	if err != nil {
		_ = c.Send(hub.NewErrorEvent(CodeValidation, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg, err := h.sender.Send(ctx, c.UserID(), target, req.Message)
	if err != nil {
		code := sendErrorCode(err)
		if code == CodeInternal {
			c.log.Errorw("send message failed", "error", err)
			_ = c.Send(hub.NewErrorEvent(code, "internal error"))
			return
		}
		_ = c.Send(hub.NewErrorEvent(code, err.Error()))
		return
	}

	ack := hub.Event{Name: hub.EventMessageSent, Data: MessageSent{Message: chat.NewMessagePayload(msg, c.username)}}
	if err := c.Send(ack); err != nil {
		c.log.Debugw("ack dropped", "message_id", msg.ID, "error", err)
	}
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrBodyTooLong),
		errors.Is(err, chat.ErrInvalidTarget),
		errors.Is(err, chat.ErrGroupEmpty):
		return CodeValidation
	case errors.Is(err, chat.ErrRecipientNotFound),
		errors.Is(err, chat.ErrGroupNotFound),
		errors.Is(err, chat.ErrSenderNotFound):
		return CodeNotFound
	case errors.Is(err, chat.ErrNotGroupMember):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
