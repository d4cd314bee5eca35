package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cafemeet/internal/push"
)

// PushHandler manages Web Push subscriptions. A nil notifier means push is
// not configured and every route answers 404.
type PushHandler struct {
	notifier *push.Notifier
	logger   *slog.Logger
}

func NewPushHandler(notifier *push.Notifier, logger *slog.Logger) *PushHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushHandler{notifier: notifier, logger: logger.With("component", "handlers")}
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *PushHandler) PublicKey(c *gin.Context) {
	if h.notifier == nil {
		abortWith(c, http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.notifier.VAPIDPublicKey()})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	if h.notifier == nil {
		abortWith(c, http.StatusNotFound, "not found")
		return
	}
	var req push.Subscription
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.notifier.Subscribe(c.Request.Context(), c.GetString("user_id"), req); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if h.notifier == nil {
		abortWith(c, http.StatusNotFound, "not found")
		return
	}
	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.notifier.Unsubscribe(c.Request.Context(), c.GetString("user_id"), req.Endpoint); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
