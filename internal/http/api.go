// Package http exposes the operational API: health, live tasks and
// aggregate transfer statistics.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"url-courier/internal/domain"
	"url-courier/internal/repository"
)

// TaskLister provides a snapshot of live tasks.
type TaskLister interface {
	Active() []domain.Task
}

// Handler wires HTTP routes to the orchestrator and user store.
type Handler struct {
	tasks TaskLister
	users repository.UserRepository
}

func NewHandler(tasks TaskLister, users repository.UserRepository) *Handler {
	return &Handler{tasks: tasks, users: users}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/tasks", h.listTasks)
		api.GET("/stats", h.stats)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type TaskResponse struct {
	UserID    int64             `json:"user_id"`
	Source    string            `json:"source"`
	Status    domain.TaskStatus `json:"status"`
	Artifact  string            `json:"artifact,omitempty"`
	StartedAt string            `json:"started_at"`
}

type StatsResponse struct {
	Users         int64 `json:"users"`
	Fetches       int64 `json:"fetches"`
	Uploads       int64 `json:"uploads"`
	BytesFetched  int64 `json:"bytes_fetched"`
	BytesUploaded int64 `json:"bytes_uploaded"`
	ActiveTasks   int   `json:"active_tasks"`
}

func (h *Handler) listTasks(c *gin.Context) {
	tasks := h.tasks.Active()
	resp := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = TaskResponse{
			UserID:    t.UserID,
			Source:    t.Source,
			Status:    t.Status,
			Artifact:  t.ArtifactPath,
			StartedAt: t.StartedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.users.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		Users:         stats.Users,
		Fetches:       stats.Fetches,
		Uploads:       stats.Uploads,
		BytesFetched:  stats.BytesFetched,
		BytesUploaded: stats.BytesUploaded,
		ActiveTasks:   len(h.tasks.Active()),
	})
}
