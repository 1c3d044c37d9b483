package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/notification"
	"github.com/example/workflow-notifier/internal/util"
	"github.com/example/workflow-notifier/internal/workflow"
)

const (
	defaultDeadJobLimit = 50
	maxDeadJobLimit     = 500
)

type emitEventReq struct {
	Type     string         `json:"type" binding:"required"`
	EntityID string         `json:"entityId" binding:"required"`
	Payload  map[string]any `json:"payload"`
}

type sendNotificationReq struct {
	Channel       string         `json:"channel" binding:"required"`
	Recipient     string         `json:"recipient" binding:"required"`
	TemplateID    string         `json:"templateId" binding:"required"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlationId"`
}

type contactReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type linkEntityReq struct {
	ClientID string `json:"clientId" binding:"required"`
}

type setActiveReq struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) emitEvent(c *gin.Context) {
	var req emitEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	trigger, err := models.ParseTriggerType(req.Type)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.events.Emit(c.Request.Context(), trigger, req.EntityID, req.Payload)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) sendNotification(c *gin.Context) {
	var req sendNotificationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	channel, err := models.ParseChannel(req.Channel)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	job, err := s.notifications.SendTemplated(c.Request.Context(), channel, req.Recipient, req.TemplateID, req.Data, req.CorrelationID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listRules(c *gin.Context) {
	var filter models.RuleFilter
	if v := c.Query("trigger"); v != "" {
		trigger, err := models.ParseTriggerType(v)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.TriggerType = &trigger
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "active must be a boolean")
			return
		}
		filter.Active = &active
	}
	rules, err := s.rules.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) createRule(c *gin.Context) {
	var rule models.WorkflowRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	created, err := s.rules.Create(c.Request.Context(), rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var rule models.WorkflowRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	rule.ID = c.Param("id")
	updated, err := s.rules.Update(c.Request.Context(), rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) setRuleActive(c *gin.Context) {
	var req setActiveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	if err := s.rules.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) deadJobs(c *gin.Context) {
	limit := defaultDeadJobLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeadJobLimit)
	}
	records, err := s.queue.DeadJobs(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadJobs": records})
}

func (s *Server) putContact(c *gin.Context) {
	clientID, err := util.ValidateIdentifier(c.Param("clientId"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var req contactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	contact := models.ClientContact{ClientID: clientID, Name: strings.TrimSpace(req.Name)}
	if strings.TrimSpace(req.Email) != "" {
		if contact.Email, err = util.NormalizeEmail(req.Email); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if strings.TrimSpace(req.Phone) != "" {
		if contact.Phone, err = util.NormalizePhone(req.Phone); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if contact.Email == "" && contact.Phone == "" {
		badRequest(c, "email or phone is required")
		return
	}
	if err := s.contacts.UpsertContact(c.Request.Context(), contact); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) linkEntity(c *gin.Context) {
	entityID, err := util.ValidateIdentifier(c.Param("id"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var req linkEntityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return
	}
	clientID, err := util.ValidateIdentifier(req.ClientID)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.contacts.LinkEntity(c.Request.Context(), entityID, clientID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, notification.ErrValidation),
		errors.Is(err, workflow.ErrInvalidRule),
		errors.Is(err, workflow.ErrInvalidEvent),
		errors.Is(err, workflow.ErrUnknownTrigger):
		code = http.StatusBadRequest
	case errors.Is(err, workflow.ErrRuleNotFound):
		code = http.StatusNotFound
	case errors.Is(err, workflow.ErrRuleExists):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
