package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/services"
	"github.com/yoockh/yoorelay/internal/usage"
	"github.com/yoockh/yoorelay/internal/utils"
)

// ActiveCounter reports users with queued or running messages.
type ActiveCounter interface {
	Active() int
}

type AdminHandler struct {
	store   *history.Store
	usage   *usage.Recorder
	traces  services.TraceService
	archive services.ArchiveService
	active  ActiveCounter
	log     *logrus.Logger
}

func NewAdminHandler(store *history.Store, rec *usage.Recorder, traces services.TraceService, archive services.ArchiveService, active ActiveCounter, log *logrus.Logger) *AdminHandler {
	if log == nil {
		log = logrus.New()
	}
	return &AdminHandler{store: store, usage: rec, traces: traces, archive: archive, active: active, log: log}
}

type StatsResponse struct {
	TotalUsers  int            `json:"total_users"`
	UserTurns   map[string]int `json:"user_turns"`
	MaxLength   int            `json:"max_history_length"`
	ActiveUsers int            `json:"active_users"`
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st := h.store.Stats()
	resp := StatsResponse{
		TotalUsers: st.TotalUsers,
		UserTurns:  st.UserTurns,
		MaxLength:  h.store.MaxLength(),
	}
	if h.active != nil {
		resp.ActiveUsers = h.active.Active()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) Tokens(c *gin.Context) {
	c.JSON(http.StatusOK, h.usage.Stats())
}

func (h *AdminHandler) ResetTokens(c *gin.Context) {
	operator, ok := requireUserID(c)
	if !ok {
		return
	}
	h.usage.Reset()
	h.log.WithField("operator", operator).Info("token counter reset via admin api")
	c.JSON(http.StatusOK, h.usage.Stats())
}

// ClearUser drops the in-memory history of one user. With ?archive=true the
// archived copy is deleted as well.
func (h *AdminHandler) ClearUser(c *gin.Context) {
	const op = "AdminHandler.ClearUser"

	operator, ok := requireUserID(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	if userID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing user_id", nil))
		return
	}

	h.store.Clear(userID)

	var archived int64
	if c.Query("archive") == "true" {
		n, err := h.archive.Forget(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		archived = n
	}

	h.log.WithFields(logrus.Fields{
		"operator": operator,
		"user":     utils.Suffix(userID, 10),
		"archived": archived,
	}).Info("history cleared via admin api")

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "cleared": true, "archived_deleted": archived})
}

func (h *AdminHandler) ClearAll(c *gin.Context) {
	operator, ok := requireUserID(c)
	if !ok {
		return
	}
	before := h.store.Stats().TotalUsers
	h.store.ClearAll()
	h.log.WithFields(logrus.Fields{"operator": operator, "users": before}).Warn("all histories cleared via admin api")
	c.JSON(http.StatusOK, gin.H{"cleared_users": before})
}

func (h *AdminHandler) Trace(c *gin.Context) {
	t, err := h.traces.Get(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *AdminHandler) UserTraces(c *gin.Context) {
	userID := c.Param("user_id")
	rows, err := h.traces.ListByUser(c.Request.Context(), userID, int64(queryLimit(c, 20, 200)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "traces": rows})
}

func (h *AdminHandler) UserArchive(c *gin.Context) {
	userID := c.Param("user_id")
	rows, err := h.archive.Recent(c.Request.Context(), userID, queryLimit(c, 50, 500))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "conversations": rows})
}
