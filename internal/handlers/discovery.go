package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type DiscoveryHandler struct {
	logger *slog.Logger
}

func NewDiscoveryHandler(logger *slog.Logger) *DiscoveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryHandler{logger: logger.With("component", "handlers")}
}

type RangeRequest struct {
	Meters *int `json:"meters" binding:"required"`
}

func (h *DiscoveryHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, currentSession(c).Discovery.Snapshot())
}

func (h *DiscoveryHandler) Enable(c *gin.Context) {
	d := currentSession(c).Discovery
	if err := d.Enable(c.Request.Context()); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d.Snapshot())
}

// ScanDevices blocks until the radio finishes its device scan.
func (h *DiscoveryHandler) ScanDevices(c *gin.Context) {
	d := currentSession(c).Discovery
	if err := d.StartDeviceScan(c.Request.Context()); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d.Snapshot())
}

// ScanNearby blocks until the nearby-user scan finishes.
func (h *DiscoveryHandler) ScanNearby(c *gin.Context) {
	d := currentSession(c).Discovery
	if err := d.ScanForNearbyUsers(c.Request.Context()); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d.Snapshot())
}

func (h *DiscoveryHandler) Connect(c *gin.Context) {
	d := currentSession(c).Discovery
	if err := d.Connect(c.Param("id")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d.Snapshot())
}

func (h *DiscoveryHandler) Disconnect(c *gin.Context) {
	d := currentSession(c).Discovery
	if err := d.Disconnect(c.Param("id")); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d.Snapshot())
}

// SetRange clamps the requested range and reports the value applied.
func (h *DiscoveryHandler) SetRange(c *gin.Context) {
	var req RangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	applied := currentSession(c).Discovery.SetDetectionRange(*req.Meters)
	c.JSON(http.StatusOK, gin.H{"detection_range": applied})
}
