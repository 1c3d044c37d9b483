// Package api exposes the engine over HTTP: event ingestion, rule
// configuration, ad hoc sends and queue introspection.
package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/workflow"
)

// Emitter accepts domain events.
type Emitter interface {
	Emit(ctx context.Context, triggerType models.TriggerType, entityID string, payload map[string]any) (*workflow.EmitResult, error)
}

// RuleManager manages workflow rules.
type RuleManager interface {
	Create(ctx context.Context, rule models.WorkflowRule) (*models.WorkflowRule, error)
	Get(ctx context.Context, id string) (*models.WorkflowRule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.WorkflowRule, error)
	Update(ctx context.Context, rule models.WorkflowRule) (*models.WorkflowRule, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// Sender queues ad hoc notifications.
type Sender interface {
	SendTemplated(ctx context.Context, channel models.Channel, recipient, templateID string, data map[string]any, correlationID string) (*models.DispatchJob, error)
}

// QueueInspector reports on the dispatch queues.
type QueueInspector interface {
	Stats(ctx context.Context) (models.QueueStats, error)
	DeadJobs(ctx context.Context, limit int) ([]models.DeadJobRecord, error)
}

// ContactRegistry stores client contacts and which client owns an entity.
type ContactRegistry interface {
	UpsertContact(ctx context.Context, c models.ClientContact) error
	LinkEntity(ctx context.Context, entityID, clientID string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies collects the collaborators of the Server.
type Dependencies struct {
	Events        Emitter
	Rules         RuleManager
	Notifications Sender
	Queue         QueueInspector
	Contacts      ContactRegistry
	HealthChecks  map[string]HealthCheck
	CORSOrigins   []string
	Logger        zerolog.Logger
}

// Server is the HTTP surface.
type Server struct {
	events        Emitter
	rules         RuleManager
	notifications Sender
	queue         QueueInspector
	contacts      ContactRegistry
	checks        map[string]HealthCheck
	logger        zerolog.Logger
	router        *gin.Engine
}

// NewServer validates deps and registers the routes.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Events == nil {
		return nil, errors.New("api: events dependency is required")
	}
	if deps.Rules == nil {
		return nil, errors.New("api: rules dependency is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("api: notifications dependency is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("api: queue dependency is required")
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Server{
		events:        deps.Events,
		rules:         deps.Rules,
		notifications: deps.Notifications,
		queue:         deps.Queue,
		contacts:      deps.Contacts,
		checks:        deps.HealthChecks,
		logger:        logger.With().Str("component", "http_api").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	if len(deps.CORSOrigins) > 0 {
		c := cors.DefaultConfig()
		c.AllowOrigins = deps.CORSOrigins
		c.AllowHeaders = []string{"Content-Type", "Authorization"}
		c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		r.Use(cors.New(c))
	}

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	v1.POST("/events", s.emitEvent)
	v1.POST("/notifications", s.sendNotification)

	rules := v1.Group("/rules")
	rules.GET("", s.listRules)
	rules.POST("", s.createRule)
	rules.GET("/:id", s.getRule)
	rules.PUT("/:id", s.updateRule)
	rules.DELETE("/:id", s.deleteRule)
	rules.PUT("/:id/active", s.setRuleActive)

	if s.contacts != nil {
		v1.PUT("/contacts/:clientId", s.putContact)
		v1.PUT("/entities/:id/client", s.linkEntity)
	}

	queue := v1.Group("/queue")
	queue.GET("/stats", s.queueStats)
	queue.GET("/dead", s.deadJobs)

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		evt := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
