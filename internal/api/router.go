// Copyright 2025 the bili-digest authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the digest pipeline over HTTP.
//
// Routes:
//   - POST   /api/v1/digests       run (or serve from cache) a digest.
//   - GET    /api/v1/digests/:id   fetch a cached result, no pipeline run.
//   - DELETE /api/v1/cache/:id     drop every cached entry of one video.
//   - DELETE /api/v1/cache         drop the whole cache.
//   - GET    /healthz              liveness probe.
//
// Pipeline failures map onto HTTP statuses through the error kind, so a
// missing video is a 404 and an upstream outage a 502 without the handler
// inspecting messages.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/core/services"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// Handler carries the service dependencies of the HTTP surface.
type Handler struct {
	digests *services.DigestService
}

// NewHandler is the constructor for Handler.
func NewHandler(digests *services.DigestService) *Handler {
	return &Handler{digests: digests}
}

// Register mounts every route on the router group.
func (h *Handler) Register(r *gin.RouterGroup) {
	digests := r.Group("/digests")
	{
		digests.POST("", h.createDigest)
		digests.GET("/:id", h.getDigest)
	}
	cache := r.Group("/cache")
	{
		cache.DELETE("", h.purgeCache)
		cache.DELETE("/:id", h.invalidateVideo)
	}
}

type digestRequest struct {
	Input string `json:"input" binding:"required"`
}

func (h *Handler) createDigest(c *gin.Context) {
	var req digestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is required"})
		return
	}

	result, cached, err := h.digests.Digest(c.Request.Context(), req.Input)
	if err != nil {
		status, kind := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "cached": cached})
}

func (h *Handler) getDigest(c *gin.Context) {
	result, ok := h.digests.Cached(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cached result for this id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "cached": true})
}

func (h *Handler) invalidateVideo(c *gin.Context) {
	removed, err := h.digests.InvalidateVideo(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) purgeCache(c *gin.Context) {
	removed, err := h.digests.InvalidateAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// Healthz is the liveness probe handler, mounted at the root.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps a pipeline error onto an HTTP status and a stable kind
// string for clients.
func statusFor(err error) (int, string) {
	var resErr *bilibili.ResolutionError
	if errors.As(err, &resErr) {
		return http.StatusBadRequest, "unrecognized_input"
	}

	kind := retry.KindOf(err)
	switch kind {
	case retry.KindVideoNotFound:
		return http.StatusNotFound, string(kind)
	case retry.KindPermissionDenied:
		return http.StatusForbidden, string(kind)
	case retry.KindRateLimited:
		return http.StatusTooManyRequests, string(kind)
	case retry.KindNoContent:
		return http.StatusUnprocessableEntity, string(kind)
	case retry.KindNetwork:
		return http.StatusBadGateway, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}
