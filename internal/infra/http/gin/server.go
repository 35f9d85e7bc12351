package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatsync/internal/infra/config"
	"chatsync/internal/infra/obs"
)

type Handlers struct {
	Chat ChatHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{Addr: cfg.HTTPAddr, Handler: NewRouter(cfg, obsMW, health, h)}
}

func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.GET("/status", h.Chat.Status)
		api.POST("/reconnect", h.Chat.Reconnect)

		api.GET("/tabs/:filter", h.Chat.Tab)
		api.POST("/tabs/:filter/activate", h.Chat.Activate)
		api.POST("/tabs/:filter/more", h.Chat.LoadMore)
		api.GET("/unread-counts", h.Chat.UnreadCounts)

		api.POST("/conversations", h.Chat.StartConversation)
		api.GET("/conversations/open", h.Chat.OpenThread)
		api.DELETE("/conversations/open", h.Chat.CloseConversation)
		api.POST("/conversations/open/older", h.Chat.LoadOlder)
		api.POST("/conversations/:id/open", h.Chat.OpenConversation)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.PUT("/conversations/:id/read", h.Chat.MarkRead)
		api.PUT("/conversations/:id/unread", h.Chat.MarkUnread)
		api.PUT("/conversations/:id/archive", h.Chat.Archive)
		api.PUT("/conversations/:id/unarchive", h.Chat.Unarchive)
		api.DELETE("/conversations/:id", h.Chat.Delete)
		api.POST("/messages/:localId/retry", h.Chat.Retry)

		api.POST("/listings/:id/like", h.Chat.Like)
		api.DELETE("/listings/:id/like", h.Chat.Unlike)

		api.GET("/notifications", h.Chat.Notifications)
		api.PUT("/notifications/:id/read", h.Chat.MarkNotificationRead)
		api.DELETE("/notifications/:id", h.Chat.DeleteNotification)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
