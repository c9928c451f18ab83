package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups everything the router mounts. Nil handlers leave their routes out.
type Handlers struct {
	Secret      string
	Execute     *ExecuteHandler
	Automations *AutomationHandler
	Dashboard   *DashboardHandler
	Contacts    *ContactHandler
	Webhook     WebhookHandler
	Socket      http.HandlerFunc
}

// WebhookHandler is the inbound WhatsApp callback surface
type WebhookHandler interface {
	VerifyWebhook(c *gin.Context)
	HandleMessage(c *gin.Context)
}

func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if h.Webhook != nil {
		r.GET("/webhook", h.Webhook.VerifyWebhook)
		r.POST("/webhook", h.Webhook.HandleMessage)
	}

	apiGroup := r.Group("/api", RequireSecret(h.Secret))

	if h.Socket != nil {
		apiGroup.GET("/ws", func(c *gin.Context) {
			// workspace tokens only ever see their own feed
			if scoped := scopedWorkspace(c); scoped != "" {
				q := c.Request.URL.Query()
				q.Set("workspace_id", scoped)
				c.Request.URL.RawQuery = q.Encode()
			}
			h.Socket(c.Writer, c.Request)
		})
	}

	if h.Execute != nil {
		apiGroup.GET("/automations/execute", h.Execute.Execute)
		apiGroup.POST("/automations/execute", h.Execute.Execute)
		apiGroup.POST("/automations/trigger", h.Execute.Trigger)
	}

	ws := apiGroup.Group("/workspaces/:workspaceId", RequireWorkspaceAccess())
	if h.Automations != nil {
		ws.GET("/automations", h.Automations.GetAutomations)
		ws.POST("/automations", h.Automations.CreateAutomation)
		ws.GET("/automations/:id", h.Automations.GetAutomation)
		ws.PUT("/automations/:id", h.Automations.UpdateAutomation)
		ws.DELETE("/automations/:id", h.Automations.DeleteAutomation)
		ws.POST("/automations/:id/toggle", h.Automations.ToggleAutomation)
		ws.GET("/automation-logs", h.Automations.GetLogs)
		ws.GET("/automation-logs/export", h.Automations.ExportLogs)
		ws.GET("/automation-analytics", h.Automations.GetAnalytics)
	}
	if h.Dashboard != nil {
		ws.GET("/conversations/:id/messages", h.Dashboard.GetMessages)
		ws.POST("/conversations/:id/messages", h.Dashboard.SendMessage)
		ws.POST("/conversations/:id/resolve", h.Dashboard.ResolveConversation)
	}
	if h.Contacts != nil {
		ws.GET("/contacts", h.Contacts.GetContacts)
		ws.PUT("/contacts/:id/tags", h.Contacts.UpdateTags)
	}

	return r
}
