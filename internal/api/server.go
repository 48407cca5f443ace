package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tanq16/velodown/internal/utils"
)

// Controller is the part of the scheduler the API drives.
type Controller interface {
	Resolve(ctx context.Context, rawURL string) (utils.DownloadInfo, error)
	AddTask(ctx context.Context, req utils.AddRequest) (utils.DownloadTask, error)
	Start(id string) error
	Pause(id string) error
	Cancel(id string) error
	ListTasks() []utils.DownloadTask
	GetTask(id string) (utils.DownloadTask, error)
	Settings() utils.Settings
	UpdateSettings(settings utils.Settings) (utils.Settings, error)
}

type Server struct {
	ctrl Controller
	hub  *Hub
}

func NewRouter(ctrl Controller, hub *Hub) *gin.Engine {
	s := &Server{ctrl: ctrl, hub: hub}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api")
	{
		api.POST("/resolve", s.resolveHandler)
		api.GET("/downloads", s.listHandler)
		api.POST("/downloads", s.addHandler)
		api.GET("/downloads/:id", s.getHandler)
		api.POST("/downloads/:id/start", s.startHandler)
		api.POST("/downloads/:id/pause", s.pauseHandler)
		api.DELETE("/downloads/:id", s.cancelHandler)
		api.GET("/settings", s.getSettingsHandler)
		api.PUT("/settings", s.updateSettingsHandler)
		api.GET("/events", s.eventsHandler)
	}
	return router
}

func requestLogger() gin.HandlerFunc {
	log := utils.GetLogger("api")
	return func(c *gin.Context) {
		c.Next()
		log.Debug().Str("method", c.Request.Method).Str("path", c.FullPath()).Int("status", c.Writer.Status()).Msg("Request handled")
	}
}

// errorStatus maps core errors onto HTTP status codes.
func errorStatus(err error) int {
	var connErr *utils.ConnectionError
	switch {
	case errors.Is(err, utils.ErrInvalidURL), errors.Is(err, utils.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.As(err, &connErr), utils.StatusCode(err) != 0:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func (s *Server) resolveHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	info, err := s.ctrl.Resolve(c.Request.Context(), request.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) listHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.ListTasks())
}

func (s *Server) addHandler(c *gin.Context) {
	var request utils.AddRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	task, err := s.ctrl.AddTask(c.Request.Context(), request)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getHandler(c *gin.Context) {
	task, err := s.ctrl.GetTask(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) startHandler(c *gin.Context) {
	s.control(c, s.ctrl.Start)
}

func (s *Server) pauseHandler(c *gin.Context) {
	s.control(c, s.ctrl.Pause)
}

func (s *Server) control(c *gin.Context, op func(string) error) {
	id := c.Param("id")
	if err := op(id); err != nil {
		respondError(c, err)
		return
	}
	task, err := s.ctrl.GetTask(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelHandler(c *gin.Context) {
	if err := s.ctrl.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Settings())
}

func (s *Server) updateSettingsHandler(c *gin.Context) {
	settings := s.ctrl.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings: " + err.Error()})
		return
	}
	updated, err := s.ctrl.UpdateSettings(settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// eventsHandler streams task_updated and download_removed events as SSE.
func (s *Server) eventsHandler(c *gin.Context) {
	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
