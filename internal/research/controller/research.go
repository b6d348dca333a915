// Package controller exposes the research service over HTTP.
package controller

import (
	"context"
	"net/http"
	"strconv"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/contentstudio/research-engine/internal/research/dto"
	"github.com/contentstudio/research-engine/internal/research/model"
	"github.com/contentstudio/research-engine/internal/research/service"
)

var Instance *Type

func Initialize(ctx context.Context) {
	service.Initialize(ctx)

	Instance = New(service.Instance)
}

// researchService is the slice of the service layer the handlers need.
type researchService interface {
	Search(ctx context.Context, query string, filters dto.SearchFilters, userID string) (*dto.SearchResponse, error)
	Results(ctx context.Context, queryID int64, page, pageSize int) (*dto.ResultPage, error)
	History(ctx context.Context, userID string, limit int) ([]model.Query, error)
	Suggestions(ctx context.Context, fragment string, limit int) ([]string, error)
	Sources(ctx context.Context) ([]model.DataSource, error)
	Analytics(ctx context.Context) (*dto.Analytics, error)
	PurgeCache(ctx context.Context, cacheKey string) (int64, error)
}

type Type struct {
	svc researchService
}

func New(svc researchService) *Type {
	return &Type{svc: svc}
}

// RegisterRoutes mounts every research endpoint on the group.
func (t *Type) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/search", t.Search)
	group.GET("/results/:query_id", t.Results)
	group.GET("/suggestions", t.Suggestions)
	group.GET("/sources", t.Sources)
	group.GET("/history", t.History)
	group.GET("/analytics", t.Analytics)
	group.DELETE("/cache", t.PurgeCache)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(ctx *gin.Context, status int, err error) {
	gmw.GetLogger(ctx).Warn("request failed",
		zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(status, envelope{Success: false, Message: err.Error()})
}

type searchRequest struct {
	Query   string            `json:"query" binding:"required"`
	Filters dto.SearchFilters `json:"filters"`
	UserID  string            `json:"user_id"`
}

func (t *Type) Search(ctx *gin.Context) {
	var req searchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}

	response, err := t.svc.Search(ctx.Request.Context(), req.Query, req.Filters, req.UserID)
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, response)
}

func (t *Type) Results(ctx *gin.Context) {
	queryID, err := strconv.ParseInt(ctx.Param("query_id"), 10, 64)
	if err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}

	page := intQuery(ctx, "page", 1)
	pageSize := intQuery(ctx, "page_size", 20)

	results, err := t.svc.Results(ctx.Request.Context(), queryID, page, pageSize)
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, results)
}

func (t *Type) Suggestions(ctx *gin.Context) {
	suggestions, err := t.svc.Suggestions(ctx.Request.Context(),
		ctx.Query("q"), intQuery(ctx, "limit", 10))
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, gin.H{"suggestions": suggestions})
}

func (t *Type) Sources(ctx *gin.Context) {
	sources, err := t.svc.Sources(ctx.Request.Context())
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, gin.H{"sources": sources})
}

func (t *Type) History(ctx *gin.Context) {
	queries, err := t.svc.History(ctx.Request.Context(),
		ctx.Query("user_id"), intQuery(ctx, "limit", 10))
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, gin.H{"queries": queries})
}

func (t *Type) Analytics(ctx *gin.Context) {
	stats, err := t.svc.Analytics(ctx.Request.Context())
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, stats)
}

func (t *Type) PurgeCache(ctx *gin.Context) {
	dropped, err := t.svc.PurgeCache(ctx.Request.Context(), ctx.Query("key"))
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}

	ok(ctx, gin.H{"dropped": dropped})
}

func intQuery(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}
