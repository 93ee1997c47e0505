package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvtor/internal/api/middleware"
	"cvtor/internal/auth"
	"cvtor/internal/billing"
	"cvtor/internal/export"
	"cvtor/internal/generator"
	"cvtor/internal/quota"
	"cvtor/internal/render"
)

// Dependencies are the collaborators shared by the HTTP handlers.
type Dependencies struct {
	DB          *gorm.DB
	AuthService *auth.AuthService
	Redis       interface {
		sessionStore
		redisSubscriber
	}
	Queue     taskEnqueuer
	Objects   objectRemover
	Renderer  *render.Renderer
	Exporter  *export.Service
	Generator *generator.Generator
	Stripe    *billing.Stripe
	FedaPay   *billing.FedaPay
	Logger    *slog.Logger

	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
	CookieDomain          string
	AllowedOrigins        []string
}

// RegisterRoutes mounts every endpoint on router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := NewAuthHandler(
		deps.DB,
		deps.AuthService,
		deps.Redis,
		deps.Logger,
		deps.LoginRateLimitPerHour,
		deps.LoginLockThreshold,
		deps.LoginLockTTL,
		deps.CookieDomain,
	)
	resumeHandler := NewResumeHandler(deps.DB, quota.NewGate(deps.DB), deps.Renderer.Store(), deps.Logger)
	documentHandler := NewDocumentHandler(deps.Renderer, deps.Exporter, deps.Generator, deps.Logger)
	billingHandler := NewBillingHandler(deps.Stripe, deps.FedaPay, deps.Logger)
	catalogHandler := NewCatalogHandler(deps.DB, deps.Queue, deps.Objects, deps.Logger)
	wsHandler := NewWsHandler(deps.Redis, deps.AuthService, deps.Logger, deps.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	activeUser := middleware.ActiveUserMiddleware(deps.DB)

	router.GET("/ws", wsHandler.HandleConnection)

	router.GET("/templates", documentHandler.ListTemplates)
	router.GET("/templates/:name", documentHandler.GetTemplate)
	router.POST("/preview/html", documentHandler.PreviewHTML)
	router.POST("/export/pdf", documentHandler.ExportPDF)
	router.POST("/export/docx", documentHandler.ExportDOCX)
	router.POST("/generate", documentHandler.Generate)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", authMiddleware, activeUser, authHandler.Me)
	}

	resumeGroup := router.Group("/resumes")
	resumeGroup.Use(authMiddleware, activeUser)
	{
		for _, root := range []string{"", "/"} {
			resumeGroup.POST(root, resumeHandler.CreateResume)
			resumeGroup.GET(root, resumeHandler.ListResumes)
		}
		resumeGroup.GET("/quota", resumeHandler.Quota)
		resumeGroup.GET("/:id", resumeHandler.GetResume)
		resumeGroup.PUT("/:id", resumeHandler.UpdateResume)
		resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
	}

	stripeGroup := router.Group("/stripe")
	{
		stripeGroup.POST("/create-checkout-session", authMiddleware, activeUser, billingHandler.StripeCheckout)
		stripeGroup.POST("/create-portal-session", authMiddleware, activeUser, billingHandler.StripePortal)
		stripeGroup.POST("/webhook", billingHandler.StripeWebhook)
	}

	fedapayGroup := router.Group("/fedapay")
	{
		fedapayGroup.POST("/create-checkout-session", authMiddleware, activeUser, billingHandler.FedaPayCheckout)
		fedapayGroup.GET("/transaction/:id", authMiddleware, activeUser, billingHandler.FedaPayTransaction)
		fedapayGroup.POST("/webhook", billingHandler.FedaPayWebhook)
	}

	public := router.Group("/api")
	{
		public.GET("/categories", catalogHandler.ListCategories)
		public.GET("/templates", catalogHandler.ListTemplates)
		public.GET("/templates/:slug", catalogHandler.GetTemplateBySlug)
		public.GET("/templates/category/:category_slug", catalogHandler.ListTemplatesByCategory)
	}

	admin := router.Group("/api/admin")
	// Template data is raw markup and is stored as sent.
	admin.Use(authMiddleware, activeUser, middleware.RequireAdmin(), middleware.SanitizeJSONMiddleware("template_data"))
	{
		admin.GET("/categories", catalogHandler.ListCategories)
		admin.POST("/categories", catalogHandler.CreateCategory)
		admin.PUT("/categories/:id", catalogHandler.UpdateCategory)
		admin.DELETE("/categories/:id", catalogHandler.DeleteCategory)

		admin.GET("/templates", catalogHandler.AdminListTemplates)
		admin.GET("/templates/:id", catalogHandler.AdminGetTemplate)
		admin.POST("/templates", catalogHandler.CreateTemplate)
		admin.PUT("/templates/:id", catalogHandler.UpdateTemplate)
		admin.DELETE("/templates/:id", catalogHandler.DeleteTemplate)
		admin.POST("/templates/:id/thumbnail", catalogHandler.GenerateThumbnail)
	}
}
