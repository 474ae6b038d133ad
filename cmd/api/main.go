package main

import (
	_ "cms-backend/api/swagger" // swagger docs
	"cms-backend/internal/config"
	"cms-backend/internal/database"
	"cms-backend/internal/handler"
	"cms-backend/internal/middleware"
	"cms-backend/internal/notify"
	"cms-backend/internal/repository"
	"cms-backend/internal/service"
	"cms-backend/internal/websocket"
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Change Management API
// @version         1.0
// @description     Change request lifecycle management with role-based access control and SLA tracking.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	db, err := database.NewConnection(cfg.DatabaseDSN)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	logrus.Info("connected to PostgreSQL")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Notifications fan out to email (when configured) and live WebSocket events
	notifiers := notify.Fanout{notify.NewHubNotifier(wsHub)}
	if cfg.SMTP.Configured() {
		notifiers = append(notifiers, notify.NewEmailNotifier(cfg.SMTP))
	} else {
		logrus.Warn("SMTP not configured, email notifications disabled")
	}

	clock := clockwork.NewRealClock()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	crRepo := repository.NewChangeRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	userService := service.NewUserService(userRepo, roleRepo, auditRepo, cfg.JWTSecret, cfg.TokenTTL, clock)
	roleService := service.NewRoleService(roleRepo, auditRepo, txManager)
	projectService := service.NewProjectService(projectRepo, userRepo, auditRepo, txManager)
	crService := service.NewChangeRequestService(crRepo, projectRepo, auditRepo, txManager, notifiers, clock)
	auditService := service.NewAuditService(auditRepo)
	statsService := service.NewStatisticsService(db, projectRepo)

	if err := roleService.SeedDefaultRolesAndPermissions(context.Background()); err != nil {
		logrus.WithError(err).Fatal("failed to seed roles and permissions")
	}

	// Initialize Handlers
	auth := middleware.NewAuthenticator(cfg.JWTSecret, userService)
	userHandler := handler.NewUserHandler(userService, cfg.CookieSecure)
	roleHandler := handler.NewRoleHandler(roleService)
	projectHandler := handler.NewProjectHandler(projectService)
	crHandler := handler.NewChangeRequestHandler(crService)
	auditHandler := handler.NewAuditHandler(auditService)
	statsHandler := handler.NewStatisticsHandler(statsService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, []byte(cfg.JWTSecret))
	})

	// Public auth routes
	userHandler.RegisterPublicRoutes(router.Group(""))

	// Protected API routes
	api := router.Group("", auth.Authenticate())
	userHandler.RegisterRoutes(api)
	roleHandler.RegisterRoutes(api)
	projectHandler.RegisterRoutes(api)
	crHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)
	statsHandler.RegisterRoutes(api)

	logrus.WithField("port", cfg.Port).Info("server listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}
