package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"onboard-api/handlers"
	"onboard-api/middleware"
	"onboard-api/models"
	"onboard-api/services"
	"onboard-api/store"
)

// Setup wires every endpoint. The role allow-lists live here and nowhere
// else: handlers never re-check roles.
func Setup(rg *gin.RouterGroup, st store.Store, ws *handlers.WSHandler) {
	mailer := services.NewEmailService()
	invites := services.NewInviteService(st, services.NewAccountProvisioner(mailer), ws)
	posts := services.NewPostService(st)

	authHandler := &handlers.AuthHandler{Users: st}
	inviteHandler := &handlers.InvitationHandler{Invites: invites, Mailer: mailer}
	adminHandler := &handlers.AdminHandler{Invites: invites, Users: st}
	postHandler := &handlers.PostHandler{Posts: posts}

	// Public: login, the visitor's token-addressed reads and the one-shot
	// form submit. Possession of the invite token is the capability.
	rg.POST("/token", authHandler.Login)
	rg.POST("/token/refresh", authHandler.Refresh)
	rg.GET("/invites/:token", inviteHandler.Resolve)
	rg.POST("/invites/:token/submit", middleware.RateLimiterWith(20, time.Minute), inviteHandler.Submit)
	rg.GET("/ws/admin", ws.HandleAdmin)

	protected := rg.Group("/")
	protected.Use(middleware.AuthMiddleware())

	// 2FA enrollment is open to any authenticated caller.
	protected.POST("/auth/2fa/setup", authHandler.Setup2FA)
	protected.POST("/auth/2fa/confirm", authHandler.Confirm2FA)

	admin := protected.Group("/")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/invites", inviteHandler.Issue)
		admin.GET("/admin/submissions", adminHandler.ListSubmissions)
		admin.POST("/admin/submissions/:id/approve", adminHandler.Approve)
		admin.POST("/admin/submissions/:id/reject", adminHandler.Reject)
		admin.GET("/admin/members-with-form", adminHandler.MembersWithForm)
		admin.GET("/members", adminHandler.ListMembers)

		admin.POST("/posts", postHandler.Create)
		admin.GET("/posts/client", postHandler.ByAuthor)
		admin.POST("/posts/:id/pin", postHandler.Pin)
		admin.DELETE("/posts/:id", postHandler.Delete)
	}

	member := protected.Group("/")
	member.Use(middleware.RequireRole(models.RoleMember))
	{
		member.GET("/posts/mine", postHandler.Mine)
	}
}
