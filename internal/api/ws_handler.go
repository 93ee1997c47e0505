package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cvtor/internal/auth"
	"cvtor/internal/worker"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

type redisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// wsRejection is an authentication failure reported to the client as a close frame.
type wsRejection struct {
	reason string
	err    error
}

func (r *wsRejection) Error() string {
	if r.err == nil {
		return r.reason
	}
	return r.reason + ": " + r.err.Error()
}

func (r *wsRejection) Unwrap() error { return r.err }

// WsHandler pushes thumbnail notifications published by the worker to the admin who queued them.
type WsHandler struct {
	subscriber redisSubscriber
	tokens     *auth.AuthService
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewWsHandler builds the notification socket. With no allowed origins only same-host
// browsers may connect.
func NewWsHandler(redisClient redisSubscriber, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	return &WsHandler{
		subscriber: redisClient,
		tokens:     authService,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r)
			},
		},
	}
}

func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) > 0 {
		return slices.Contains(allowed, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection expects {"type":"auth","token":"<access token>"} as the first frame,
// answers {"type":"ready"} and then relays every message on the user's notify channel.
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	userID, err := h.authenticate(conn)
	if err != nil {
		var rejection *wsRejection
		if errors.As(err, &rejection) {
			writeClose(conn, websocket.ClosePolicyViolation, rejection.reason)
		}
		log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(userID)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends anything useful after auth; reading only notices the disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.relay(ctx, conn, userID, log); err != nil && ctx.Err() == nil {
		log.Info("websocket relay stopped", slog.Any("error", err))
		return
	}
	log.Info("websocket client disconnected")
}

func (h *WsHandler) authenticate(conn *websocket.Conn) (uint, error) {
	if err := conn.SetReadDeadline(time.Now().Add(wsAuthTimeout)); err != nil {
		return 0, fmt.Errorf("set auth deadline: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read auth message: %w", err)
	}

	var msg wsAuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, &wsRejection{reason: "invalid auth payload", err: err}
	}
	if msg.Type != "auth" || strings.TrimSpace(msg.Token) == "" {
		return 0, &wsRejection{reason: "auth required"}
	}

	claims, err := h.tokens.ValidateToken(msg.Token)
	if err != nil {
		return 0, &wsRejection{reason: "unauthorized", err: err}
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return 0, &wsRejection{reason: "access token required"}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("clear auth deadline: %w", err)
	}
	return claims.UserID, nil
}

func (h *WsHandler) relay(ctx context.Context, conn *websocket.Conn, userID uint, log *slog.Logger) error {
	channel := worker.NotifyChannel(userID)
	pubsub := h.subscriber.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := writeJSON(conn, gin.H{"type": "ready"}); err != nil {
		return err
	}
	log.Info("websocket relay started", slog.String("channel", channel))

	messages := pubsub.Channel()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("notify channel closed")
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return fmt.Errorf("forward notification: %w", err)
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
}
