package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"dropmates/internal/app"
	"dropmates/internal/batch"
	"dropmates/internal/cache"
	"dropmates/internal/hub"
	"dropmates/internal/logging"
	"dropmates/internal/metrics"
	"dropmates/internal/model"
	"dropmates/internal/remote"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RelationshipsHandler struct {
	App     *app.App
	Hub     *hub.Hub
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

type unfollowRequest struct {
	IDs             []string `json:"ids" binding:"omitempty,dive,required"`
	ExcludeVerified bool     `json:"exclude_verified"`
}

func (h *RelationshipsHandler) List(view app.View) gin.HandlerFunc {
	return func(c *gin.Context) {
		excludeVerified, err := boolQuery(c, "exclude_verified")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid exclude_verified"})
			return
		}

		users, err := h.App.List(c.Request.Context(), view, false, excludeVerified)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"view": view, "users": users, "count": len(users)})
	}
}

func (h *RelationshipsHandler) Rebuild(c *gin.Context) {
	snap, err := h.App.Snapshot(c.Request.Context(), true)
	if h.Metrics != nil {
		h.Metrics.ObserveRebuild(err)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot_id": snap.ID,
		"fetched_at":  snap.FetchedAt.UnixMilli(),
		"followers":   len(snap.Followers),
		"following":   len(snap.Following),
	})
}

func (h *RelationshipsHandler) Unfollow(c *gin.Context) {
	var body unfollowRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	req := app.UnfollowRequest{
		ExcludeVerified: body.ExcludeVerified,
		Only:            body.IDs,
	}
	var observers []batch.Observer
	if h.Hub != nil {
		observers = append(observers, h.Hub.BatchObserver(h.App.Account()))
	}
	if h.Metrics != nil {
		observers = append(observers, h.Metrics)
	}
	req.Observer = batch.Observers(observers...)
	report, err := h.App.AutoUnfollow(c.Request.Context(), req)
	if err != nil {
		var derr *batch.DispatchError
		if errors.As(err, &derr) {
			h.logger().Warn("unfollow batch failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": reportBody(report)})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": reportBody(report)})
}

func reportBody(r model.ActionReport) gin.H {
	return gin.H{
		"run_id":     r.RunID,
		"outcomes":   r.Outcomes,
		"unfollowed": len(r.Succeeded()),
		"failed":     len(r.Failed()),
		"skipped":    len(r.Skipped()),
		"unknown":    len(r.Unknown()),
	}
}

func (h *RelationshipsHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *RelationshipsHandler) logger() *zap.Logger {
	return logging.OrNop(h.Logger)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, remote.ErrAuth), errors.Is(err, remote.ErrSessionExpired), errors.Is(err, cache.ErrRebuildFailed):
		return http.StatusBadGateway
	case errors.Is(err, app.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
