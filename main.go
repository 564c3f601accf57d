package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"docrelay/internal/config"
	"docrelay/internal/db"
	"docrelay/internal/http/handlers"
	appmw "docrelay/internal/http/middleware"
	"docrelay/internal/logging"
	"docrelay/internal/mailer"
	"docrelay/internal/metrics"
	"docrelay/internal/pdf"
	"docrelay/internal/ratelimit"
	"docrelay/internal/usage"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := db.EnsureBootstrapAdmin(ctx, sqlDB, cfg); err != nil {
		logger.Fatal("failed to ensure bootstrap admin", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	usageSvc := usage.NewService(db.NewUsageLogStore(sqlDB), logger.Named("usage"), usage.WithMetrics(m), usage.WithRetentionDays(cfg.RetentionDays))
	db.StartSummaryWorker(ctx, sqlDB, logger.Named("summary"))

	var (
		limiter ratelimit.Admitter
		queue   mailer.Queue
	)
	if cfg.UseRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid APP_REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(rdb, "", nil)
		queue = mailer.NewRedisQueue(rdb, cfg.MailQueue)
		logger.Info("using redis for rate limiting and mail queue")
	} else {
		mem := ratelimit.New(nil)
		mem.StartSweeper(ctx, cfg.RateLimitSweepInterval, logger.Named("ratelimit"))
		limiter = mem
		queue = mailer.NewMemoryQueue(1000)
	}

	worker := mailer.NewWorker(queue, mailer.NewSMTPSender(30*time.Second), usageSvc, logger.Named("mailer")).WithMaxAttempts(3)
	go worker.Run(ctx)

	renderer := pdf.NewChromeRenderer(cfg.ChromePath, cfg.PDFTimeout, logger.Named("pdf"))
	defer renderer.Close()

	r := router.New()
	handler := appmw.RequestLogger(logger.Named("http"), m)(r.Handler)

	session := appmw.AdminAuth(sqlDB, cfg)
	admin := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return session(appmw.RequireAdmin(h))
	}
	rateLimited := func(endpoint string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return appmw.BearerAuth()(appmw.RateLimit(limiter, cfg.RateLimitOptions(), endpoint, m, logger.Named("ratelimit"))(h))
	}

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.POST("/login", handlers.LoginSubmit(sqlDB))
	r.POST("/logout", handlers.Logout())
	r.GET("/api/me", session(handlers.Me()))
	r.POST("/api/profile/password", session(handlers.ChangePasswordSelf(sqlDB, cfg)))

	r.GET("/api/logs", admin(handlers.QueryLogs(usageSvc, logger)))
	r.GET("/api/logs/export", admin(handlers.ExportLogs(usageSvc, logger)))
	r.GET("/api/logs/summary", admin(handlers.LogSummary(sqlDB, logger)))
	r.POST("/api/logs", session(handlers.IngestLog(usageSvc, logger)))

	r.GET("/api/smtp-configs", session(handlers.ListSMTPConfigs(sqlDB, logger)))
	r.POST("/api/smtp-configs", session(handlers.CreateSMTPConfig(sqlDB, logger)))
	r.GET("/api/smtp-configs/{id}", session(handlers.GetSMTPConfig(sqlDB, logger)))
	r.PUT("/api/smtp-configs/{id}", session(handlers.UpdateSMTPConfig(sqlDB, logger)))
	r.DELETE("/api/smtp-configs/{id}", session(handlers.DeleteSMTPConfig(sqlDB, logger)))
	r.POST("/api/smtp-configs/{id}/tokens", session(handlers.CreateToken(sqlDB, db.TokenSMTP, logger)))
	r.DELETE("/api/smtp-configs/{id}/tokens/{tokenId}", session(handlers.DeleteToken(sqlDB, db.TokenSMTP, logger)))

	r.GET("/api/pdf-configs", session(handlers.ListPDFConfigs(sqlDB, logger)))
	r.POST("/api/pdf-configs", session(handlers.CreatePDFConfig(sqlDB, logger)))
	r.GET("/api/pdf-configs/{id}", session(handlers.GetPDFConfig(sqlDB, logger)))
	r.PUT("/api/pdf-configs/{id}", session(handlers.UpdatePDFConfig(sqlDB, logger)))
	r.DELETE("/api/pdf-configs/{id}", session(handlers.DeletePDFConfig(sqlDB, logger)))
	r.POST("/api/pdf-configs/{id}/tokens", session(handlers.CreateToken(sqlDB, db.TokenPDF, logger)))
	r.DELETE("/api/pdf-configs/{id}/tokens/{tokenId}", session(handlers.DeleteToken(sqlDB, db.TokenPDF, logger)))

	r.GET("/api/users", admin(handlers.ListUsers(sqlDB)))
	r.POST("/api/users", admin(handlers.CreateUser(sqlDB)))
	r.PUT("/api/users/{id}", admin(handlers.UpdateUser(sqlDB, cfg)))
	r.DELETE("/api/users/{id}", admin(handlers.DeleteUser(sqlDB, cfg)))
	r.POST("/api/users/{id}/reset-password", admin(handlers.ResetPassword(sqlDB, cfg)))

	r.GET("/metrics", admin(handlers.PrometheusMetrics(reg, logger)))

	r.POST("/api/html-to-pdf", rateLimited("html-to-pdf", handlers.HTMLToPDF(sqlDB, renderer, usageSvc, logger)))
	r.POST("/api/send-email", rateLimited("send-email", handlers.SendEmail(sqlDB, queue, usageSvc, logger)))

	srv := &fasthttp.Server{
		Handler:            handler,
		Name:               "docrelay",
		MaxRequestBodySize: 20 << 20,
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = srv.Shutdown()
	}()

	logger.Info("docrelay listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
