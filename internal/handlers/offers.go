package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/session"
)

type OfferHandler struct {
	logger *slog.Logger
}

func NewOfferHandler(logger *slog.Logger) *OfferHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfferHandler{logger: logger.With("component", "handlers")}
}

type SendOfferRequest struct {
	ReceiverID string           `json:"receiver_id" binding:"required"`
	Kind       models.OfferKind `json:"type" binding:"required"`
}

type ResolveOfferRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

func (h *OfferHandler) List(c *gin.Context) {
	offers := currentSession(c).Offers
	c.JSON(http.StatusOK, session.OffersSnapshot{Sent: offers.Sent(), Received: offers.Received()})
}

// Pending lists the caller's unanswered offers from ?from=<user id>.
func (h *OfferHandler) Pending(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		badRequest(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": currentSession(c).Offers.PendingFrom(from)})
}

func (h *OfferHandler) Send(c *gin.Context) {
	var req SendOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	o, err := currentSession(c).Offers.SendOffer(c.Request.Context(), req.ReceiverID, req.Kind)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// Resolve accepts or rejects a received offer.
func (h *OfferHandler) Resolve(c *gin.Context) {
	var req ResolveOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	o, err := currentSession(c).Offers.ResolveOffer(c.Request.Context(), c.Param("id"), *req.Accept)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
