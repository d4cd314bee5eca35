package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Routes groups the handlers served under /api plus the socket endpoint.
type Routes struct {
	Auth      *AuthHandler
	Discovery *DiscoveryHandler
	Chat      *ChatHandler
	Offers    *OfferHandler
	Push      *PushHandler

	// Optional. Nil entries are skipped.
	WebSocket     gin.HandlerFunc
	LoginLimit    gin.HandlerFunc
	RegisterLimit gin.HandlerFunc
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := handlers[:0:0]
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (r Routes) Mount(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.POST("/auth/register", chain(r.RegisterLimit, r.Auth.Register)...)
		api.POST("/auth/login", chain(r.LoginLimit, r.Auth.Login)...)
		api.GET("/push/key", r.Push.PublicKey)
	}

	protected := api.Group("")
	protected.Use(r.Auth.AuthMiddleware())
	{
		protected.POST("/auth/logout", r.Auth.Logout)
		protected.GET("/profile", r.Auth.GetProfile)
		protected.PUT("/profile", r.Auth.UpdateProfile)

		protected.GET("/discovery", r.Discovery.State)
		protected.POST("/discovery/enable", r.Discovery.Enable)
		protected.POST("/discovery/devices/scan", r.Discovery.ScanDevices)
		protected.POST("/discovery/devices/:id/connect", r.Discovery.Connect)
		protected.DELETE("/discovery/devices/:id/connect", r.Discovery.Disconnect)
		protected.POST("/discovery/nearby/scan", r.Discovery.ScanNearby)
		protected.PUT("/discovery/range", r.Discovery.SetRange)

		protected.GET("/conversations", r.Chat.GetConversations)
		protected.POST("/conversations", r.Chat.CreateConversation)
		protected.GET("/conversations/:id", r.Chat.GetConversation)
		protected.PUT("/conversations/:id/read", r.Chat.MarkAllRead)
		protected.POST("/messages", r.Chat.SendMessage)
		protected.GET("/messages/unread", r.Chat.UnreadCount)

		protected.GET("/offers", r.Offers.List)
		protected.POST("/offers", r.Offers.Send)
		protected.GET("/offers/pending", r.Offers.Pending)
		protected.PUT("/offers/:id", r.Offers.Resolve)

		protected.POST("/push/subscribe", r.Push.Subscribe)
		protected.DELETE("/push/subscribe", r.Push.Unsubscribe)
	}

	if r.WebSocket != nil {
		router.GET("/ws", r.Auth.AuthMiddleware(), r.WebSocket)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
