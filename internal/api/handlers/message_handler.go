package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/utils"
)

type MessageHandler struct {
	inbox   transport.Inbox
	maxBody int64
}

// NewMessageHandler rejects bodies larger than RequestLimit(maxMediaBytes).
func NewMessageHandler(inbox transport.Inbox, maxMediaBytes int64) *MessageHandler {
	return &MessageHandler{inbox: inbox, maxBody: RequestLimit(maxMediaBytes)}
}

type InboundRequest struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id" binding:"required"`
	Text        string `json:"text"`
	MediaBase64 string `json:"media_base64"`
	MediaURL    string `json:"media_url"`
	MimeType    string `json:"mime_type"`
}

func (r InboundRequest) toMessage() *models.InboundMessage {
	return &models.InboundMessage{
		ID:          r.ID,
		UserID:      r.UserID,
		Text:        r.Text,
		HasMedia:    r.MediaBase64 != "" || r.MediaURL != "",
		MediaBase64: r.MediaBase64,
		MediaURL:    r.MediaURL,
		MimeType:    r.MimeType,
	}
}

// Enqueue accepts a message for asynchronous processing. The reply arrives
// on the user's reply channel.
func (h *MessageHandler) Enqueue(c *gin.Context) {
	const op = "MessageHandler.Enqueue"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, utils.E(utils.CodeTooLarge, op, "body too large", err))
			return
		}
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid body", err))
		return
	}

	id, err := h.inbox.Enqueue(c.Request.Context(), req.toMessage())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "queued"})
}
