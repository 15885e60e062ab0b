package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoorelay/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

func queryLimit(c *gin.Context, def, max int) int {
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

// DefaultMaxMediaBytes mirrors the pipeline's decoded media cap.
const DefaultMaxMediaBytes = 10 << 20

// RequestLimit is the largest request body or websocket frame accepted when
// decoded media may reach maxMediaBytes: the base64 form plus room for the
// other JSON fields.
func RequestLimit(maxMediaBytes int64) int64 {
	if maxMediaBytes <= 0 {
		maxMediaBytes = DefaultMaxMediaBytes
	}
	return int64(base64.StdEncoding.EncodedLen(int(maxMediaBytes))) + 4<<10
}
