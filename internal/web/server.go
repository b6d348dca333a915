// Package web gin server
package web

import (
	"net/http"
	"net/url"
	"strings"

	ginMw "github.com/Laisky/gin-middlewares/v7"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/contentstudio/research-engine/internal/research/controller"
	"github.com/contentstudio/research-engine/library/log"
)

var (
	server = gin.New()
)

func RunServer(addr string) {
	server.Use(
		gin.Recovery(),
		ginMw.NewLoggerMiddleware(
			ginMw.WithLoggerMwColored(),
			ginMw.WithLevel(log.Logger.Level().String()),
			ginMw.WithLogger(log.Logger.Named("gin")),
		),
		allowCORS,
	)
	if !gconfig.Shared.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	server.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	controller.Instance.RegisterRoutes(server.Group("/api/research"))

	log.Logger.Info("listening on http", zap.String("addr", addr))
	log.Logger.Panic("httpServer exit", zap.Error(server.Run(addr)))
}

func allowCORS(ctx *gin.Context) {
	origin := ctx.Request.Header.Get("Origin")
	allowedOrigin := ""

	if origin != "" {
		domain := strings.ToLower(gconfig.Shared.GetString("settings.server.cors_domain"))
		parsedOriginURL, err := url.Parse(origin)
		if err == nil && domain != "" {
			host := strings.ToLower(parsedOriginURL.Hostname())
			if host == domain || strings.HasSuffix(host, "."+domain) {
				allowedOrigin = origin
			}
		}
	}

	if allowedOrigin != "" {
		ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With")
		ctx.Header("Access-Control-Max-Age", "86400")
		ctx.Header("Vary", "Origin")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
	} else if origin != "" && ctx.Request.Method == http.MethodOptions {
		// deny preflight from disallowed origins
		ctx.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx.Next()
}
