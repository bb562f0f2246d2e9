package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"dronelab/internal/lecture"
	"dronelab/internal/metrics"
	"dronelab/pkg/types"
)

// Lectures is the read side of the lecture registry.
type Lectures interface {
	GenerateCode() (string, error)
	Get(ctx context.Context, code string) (*types.Lecture, error)
	GetActive(ctx context.Context, code string) (*types.Lecture, error)
}

// Lifecycle starts and ends lectures.
type Lifecycle interface {
	Start(ctx context.Context, instructorID string) (*types.Lecture, error)
	End(ctx context.Context, code string) error
}

// Sockets serves the two socket endpoints.
type Sockets interface {
	ServeStudent(w http.ResponseWriter, r *http.Request)
	ServeInstructor(w http.ResponseWriter, r *http.Request)
	ActiveConnections() int
}

// Authenticator resolves the instructor id from a request.
type Authenticator interface {
	Enabled() bool
	Authenticate(r *http.Request) (string, error)
}

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Stats exposes binding statistics.
type Stats interface {
	GetStats() map[string]int
}

const principalKey = "instructor"

// Server is the HTTP surface: lecture records, health, metrics and socket
// upgrades. It holds no session state of its own.
type Server struct {
	lectures  Lectures
	lifecycle Lifecycle
	sockets   Sockets
	auth      Authenticator
	stats     Stats
	checks    []HealthCheck
	engine    *gin.Engine
}

// NewServer builds the gin engine. auth may be nil.
func NewServer(mode string, lectures Lectures, lifecycle Lifecycle, sockets Sockets, auth Authenticator, stats Stats, checks ...HealthCheck) *Server {
	gin.SetMode(mode)

	s := &Server{
		lectures:  lectures,
		lifecycle: lifecycle,
		sockets:   sockets,
		auth:      auth,
		stats:     stats,
		checks:    checks,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(), cors())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine.GET("/ws/student", gin.WrapF(s.sockets.ServeStudent))
	s.engine.GET("/ws/instructor", gin.WrapF(s.sockets.ServeInstructor))

	api := s.engine.Group("/api/lectures")
	api.GET("/generate_code", s.generateCode)
	api.GET("", s.getLecture)

	protected := api.Group("", s.requireInstructor())
	protected.POST("", s.createLecture)
	protected.PUT("", s.updateLecture)
	protected.DELETE("/:code", s.deleteLecture)
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type CreateLectureRequest struct {
	InstructorID string `json:"instructorId"`
}

type UpdateLectureRequest struct {
	Code   string `json:"code" binding:"required"`
	Active *bool  `json:"active" binding:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) generateCode(c *gin.Context) {
	code, err := s.lectures.GenerateCode()
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "code_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (s *Server) getLecture(c *gin.Context) {
	code := c.Query("code")
	if !types.IsValidLectureCode(code) {
		sendError(c, http.StatusBadRequest, "invalid_code", "query parameter code is required")
		return
	}

	l, err := s.lectures.GetActive(c.Request.Context(), code)
	if err != nil {
		s.lectureError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) createLecture(c *gin.Context) {
	var req CreateLectureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	if principal := c.GetString(principalKey); principal != "" {
		if req.InstructorID == "" {
			req.InstructorID = principal
		}
		if req.InstructorID != principal {
			sendError(c, http.StatusForbidden, "forbidden", "lectures can only be started for yourself")
			return
		}
	}

	l, err := s.lifecycle.Start(c.Request.Context(), req.InstructorID)
	if err != nil {
		s.lectureError(c, err)
		return
	}

	log.Info().Str("module", "api").Str("lecture", l.Code).Str("instructor", l.InstructorID).Msg("lecture started")
	c.JSON(http.StatusCreated, l)
}

func (s *Server) updateLecture(c *gin.Context) {
	var req UpdateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if *req.Active {
		l, err := s.lectures.GetActive(c.Request.Context(), req.Code)
		if err != nil {
			sendError(c, http.StatusConflict, "cannot_reactivate", "ended lectures cannot be reactivated")
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": l.Code, "active": true})
		return
	}
	s.endLecture(c, req.Code)
}

func (s *Server) deleteLecture(c *gin.Context) {
	s.endLecture(c, c.Param("code"))
}

// endLecture is idempotent: unknown and ended lectures answer 200 too.
func (s *Server) endLecture(c *gin.Context, code string) {
	if !types.IsValidLectureCode(code) {
		sendError(c, http.StatusBadRequest, "invalid_code", "invalid lecture code")
		return
	}

	if principal := c.GetString(principalKey); principal != "" {
		l, err := s.lectures.Get(c.Request.Context(), code)
		if err == nil && l.InstructorID != principal {
			sendError(c, http.StatusForbidden, "forbidden", "only the lecture's instructor can end it")
			return
		}
	}

	if err := s.lifecycle.End(c.Request.Context(), code); err != nil {
		log.Error().Str("module", "api").Str("lecture", code).Err(err).Msg("failed to end lecture")
		sendError(c, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "active": false})
}

func (s *Server) lectureError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lecture.ErrLectureNotFound), errors.Is(err, lecture.ErrLectureEnded):
		sendError(c, http.StatusNotFound, "not_found", "lecture not found")
	case errors.Is(err, lecture.ErrInvalidCode), errors.Is(err, lecture.ErrInvalidInstructorID):
		sendError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, lecture.ErrCodeSpaceExhausted):
		sendError(c, http.StatusServiceUnavailable, "code_unavailable", err.Error())
	default:
		log.Error().Str("module", "api").Err(err).Msg("lecture request failed")
		sendError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	Connections map[string]int    `json:"connections"`
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Checks:      make(map[string]string, len(s.checks)),
		Connections: map[string]int{"sockets": s.sockets.ActiveConnections()},
	}
	for k, v := range s.stats.GetStats() {
		resp.Connections[k] = v
	}

	status := http.StatusOK
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			resp.Checks[check.Name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}
	c.JSON(status, resp)
}

func (s *Server) requireInstructor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil || !s.auth.Enabled() {
			c.Next()
			return
		}
		sub, err := s.auth.Authenticate(c.Request)
		if err != nil {
			sendError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			c.Abort()
			return
		}
		c.Set(principalKey, sub)
		c.Next()
	}
}

func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "api").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
