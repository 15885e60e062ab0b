package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/utils"
)

// WSHandler bridges a messaging adapter over a websocket: client frames are
// enqueued as inbound messages and the user's reply and status channels are
// forwarded back.
type WSHandler struct {
	inbox    transport.Inbox
	redis    *redis.Client
	log      *logrus.Logger
	upgrader websocket.Upgrader
	maxFrame int64
}

// NewWSHandler closes connections whose frames exceed
// RequestLimit(maxMediaBytes).
func NewWSHandler(inbox transport.Inbox, rdb *redis.Client, maxMediaBytes int64, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		inbox: inbox,
		redis: rdb,
		log:      log,
		maxFrame: RequestLimit(maxMediaBytes),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type wsClientMsg struct {
	Type        string `json:"type"` // message | ping
	ID          string `json:"id"`
	Text        string `json:"text"`
	MediaBase64 string `json:"media_base64"`
	MediaURL    string `json:"media_url"`
	MimeType    string `json:"mime_type"`
}

type wsServerMsg struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	Code    utils.Code `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeMsg(m wsServerMsg) error {
	b, err := sonic.Marshal(m)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (h *WSHandler) UserWS(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.UserWS", "missing user_id", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.log.WithField("user", utils.Suffix(userID, 10))

	// Redis -> WS
	pubsub := h.redis.Subscribe(ctx, transport.ReplyChannel(userID), transport.StatusChannel(userID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = wc.writeMsg(wsServerMsg{Type: "error", Code: utils.CodeUnavailable, Message: "failed to subscribe"})
		return
	}
	_ = wc.writeMsg(wsServerMsg{Type: "ready"})

	// reader: WS -> inbound stream
	go func() {
		defer cancel()
		conn.SetReadLimit(h.maxFrame)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg wsClientMsg
			if err := sonic.Unmarshal(data, &msg); err != nil {
				_ = wc.writeMsg(wsServerMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "invalid json"})
				continue
			}

			switch msg.Type {
			case "message":
				req := InboundRequest{
					ID:          msg.ID,
					UserID:      userID,
					Text:        msg.Text,
					MediaBase64: msg.MediaBase64,
					MediaURL:    msg.MediaURL,
					MimeType:    msg.MimeType,
				}
				id, err := h.inbox.Enqueue(ctx, req.toMessage())
				if err != nil {
					log.WithError(err).Warn("ws enqueue failed")
					_ = wc.writeMsg(wsServerMsg{Type: "error", Code: utils.CodeOf(err), Message: "failed to enqueue message"})
					continue
				}
				_ = wc.writeMsg(wsServerMsg{Type: "queued", ID: id})

			case "ping":
				_ = wc.writeMsg(wsServerMsg{Type: "pong"})

			default:
				_ = wc.writeMsg(wsServerMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "unknown message type"})
			}
		}
	}()

	// writer: Redis Pub/Sub -> WS
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			// payloads are already JSON
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}
