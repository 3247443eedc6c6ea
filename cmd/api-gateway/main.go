package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/college-erp-api/api/swagger"
	"github.com/noah-isme/college-erp-api/internal/handler"
	internalmiddleware "github.com/noah-isme/college-erp-api/internal/middleware"
	"github.com/noah-isme/college-erp-api/internal/models"
	"github.com/noah-isme/college-erp-api/internal/repository"
	"github.com/noah-isme/college-erp-api/internal/service"
	"github.com/noah-isme/college-erp-api/pkg/cache"
	"github.com/noah-isme/college-erp-api/pkg/config"
	"github.com/noah-isme/college-erp-api/pkg/database"
	"github.com/noah-isme/college-erp-api/pkg/export"
	"github.com/noah-isme/college-erp-api/pkg/jobs"
	"github.com/noah-isme/college-erp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/college-erp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/college-erp-api/pkg/middleware/requestid"
	"github.com/noah-isme/college-erp-api/pkg/storage"
)

// @title College ERP API
// @version 1.0.0
// @description Backend for admissions, semester progression, subject selection and reporting
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		sugar.Warnw("redis unavailable, catalog cache disabled", "error", err)
	} else {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, true)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	semesterRepo := repository.NewSemesterRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	admissionRepo := repository.NewAdmissionRepository(db)
	studentSemesterRepo := repository.NewStudentSemesterRepository(db)
	studentSubjectRepo := repository.NewStudentSubjectRepository(db)
	reportRepo := repository.NewReportRepository(db)

	authSvc := service.NewAuthService(userRepo, studentRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "college-erp-api",
	})
	userSvc := service.NewUserService(userRepo, auditRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, courseRepo, departmentRepo, auditRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, departmentRepo, cacheSvc, validate, logr)
	semesterSvc := service.NewSemesterService(semesterRepo, courseRepo, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, semesterRepo, validate, logr)
	admissionSvc := service.NewAdmissionService(admissionRepo, studentRepo, courseRepo, semesterRepo, studentSemesterRepo, auditRepo, validate, logr)
	progressionSvc := service.NewProgressionService(semesterRepo, studentSemesterRepo, studentRepo, auditRepo, cfg.Progression.DefaultDuration, validate, logr)
	selectionSvc := service.NewSubjectSelectionService(subjectRepo, studentSubjectRepo, studentRepo, semesterRepo, studentSemesterRepo, auditRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	semesterHandler := handler.NewSemesterHandler(semesterSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	admissionHandler := handler.NewAdmissionHandler(admissionSvc)
	progressionHandler := handler.NewProgressionHandler(progressionSvc)
	selectionHandler := handler.NewSubjectSelectionHandler(selectionSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	authed := api.Group("")
	authed.Use(internalmiddleware.JWT(authSvc))

	authed.POST("/auth/logout", authHandler.Logout)
	authed.POST("/auth/change-password", authHandler.ChangePassword)

	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleHOD)
	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)
	billing := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleHOD, models.RoleAccountant)
	staffOrSelf := internalmiddleware.RequireRolesOrSelf(models.RoleAdmin, models.RoleHOD, models.RoleAccountant)

	authed.GET("/users", adminOnly, userHandler.List)
	authed.GET("/users/:id", adminOnly, userHandler.Get)
	authed.POST("/users", adminOnly, userHandler.Create)
	authed.PUT("/users/:id", adminOnly, userHandler.Update)
	authed.DELETE("/users/:id", adminOnly, userHandler.Delete)

	authed.GET("/students", billing, studentHandler.List)
	authed.GET("/students/:id", staffOrSelf, studentHandler.Get)
	authed.POST("/students", staff, studentHandler.Create)
	authed.PUT("/students/:id", staff, studentHandler.Update)
	authed.PUT("/students/:id/status", staff, studentHandler.UpdateStatus)
	authed.DELETE("/students/:id", adminOnly, studentHandler.Delete)

	authed.GET("/courses", courseHandler.List)
	authed.GET("/courses/:id", courseHandler.Get)
	authed.POST("/courses", staff, courseHandler.Create)
	authed.PUT("/courses/:id", staff, courseHandler.Update)
	authed.GET("/departments", courseHandler.ListDepartments)
	authed.POST("/departments", staff, courseHandler.CreateDepartment)
	authed.GET("/sessions", courseHandler.ListSessions)
	authed.POST("/sessions", staff, courseHandler.CreateSession)

	authed.GET("/courses/:id/semesters", semesterHandler.ListByCourse)
	authed.GET("/semesters/:id", semesterHandler.Get)
	authed.POST("/semesters/generate", staff, semesterHandler.Generate)

	authed.GET("/subjects", subjectHandler.List)
	authed.GET("/subjects/:id", subjectHandler.Get)
	authed.POST("/subjects", staff, subjectHandler.Create)
	authed.PUT("/subjects/:id", staff, subjectHandler.Update)

	authed.GET("/admissions", billing, admissionHandler.List)
	authed.GET("/admissions/:id", billing, admissionHandler.Get)
	authed.GET("/admissions/:id/history", billing, admissionHandler.History)
	authed.POST("/admissions", staff, admissionHandler.Create)
	authed.PUT("/admissions/:id/status", billing, admissionHandler.Transition)

	authed.GET("/students/:id/semesters", staffOrSelf, progressionHandler.ListByStudent)
	authed.GET("/semesters/:id/students", staff, progressionHandler.ListBySemester)
	authed.POST("/student-semesters", staff, progressionHandler.Assign)
	authed.PUT("/students/:id/semesters/:semesterId/status", staff, progressionHandler.SetStatus)
	authed.PUT("/semesters/:id/students/status", staff, progressionHandler.BulkSetStatus)
	authed.POST("/semesters/:id/auto-assign", staff, progressionHandler.AutoAssign)
	authed.POST("/semesters/:id/promote", staff, progressionHandler.Promote)

	authed.GET("/students/:id/semesters/:semesterId/subjects", staffOrSelf, selectionHandler.List)
	authed.POST("/student-subjects", selectionHandler.Assign)
	authed.POST("/student-subjects/bulk", selectionHandler.BulkAssign)
	authed.DELETE("/student-subjects/:id", selectionHandler.Unassign)

	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			sugar.Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc := service.NewExportService(studentSemesterRepo, admissionRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, export.NewCSVExporter(), export.NewPDFExporter())
		worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportSvc := service.NewReportService(reportRepo, semesterRepo, queue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportHandler := handler.NewReportHandler(reportSvc, logr)

		ctx := context.Background()
		queue.Start(ctx)
		defer queue.Stop()
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)

		authed.POST("/reports/generate", billing, reportHandler.GenerateReport)
		authed.GET("/reports/:id", reportHandler.ReportStatus)
		api.GET("/export/:token", reportHandler.DownloadReport)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	sugar.Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		sugar.Fatalw("server failed", "error", err)
	}
}
