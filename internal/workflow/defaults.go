package workflow

import (
	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/render"
)

// DefaultRules returns the built-in rule set installed on an empty store.
func DefaultRules() []models.WorkflowRule {
	return []models.WorkflowRule{
		{
			ID:          "urgent-order-created",
			Name:        "Aviso de ordem urgente",
			Description: "Texts the client when a high priority order is opened.",
			Trigger: models.Trigger{
				Type: models.TriggerOrderCreated,
				Conditions: []models.Condition{
					{Field: "prioridade", Operator: models.OpIn, Value: []any{"ALTA", "URGENTE"}},
				},
			},
			Actions: []models.Action{
				{Kind: models.ActionSendSMS, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplateOrderCreated,
				}},
			},
			IsActive: true,
			Priority: 1,
		},
		{
			ID:          "payment-overdue-reminder",
			Name:        "Lembrete de pagamento em atraso",
			Description: "Reminds the client on the 3rd, 7th and 15th day of delay.",
			Trigger: models.Trigger{
				Type: models.TriggerPaymentOverdue,
				Conditions: []models.Condition{
					{Field: "daysOverdue", Operator: models.OpIn, Value: []any{3, 7, 15}},
				},
			},
			Actions: []models.Action{
				{Kind: models.ActionSendEmail, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplatePaymentOverdue,
					"priority":                  "high",
				}},
				{Kind: models.ActionSendSMS, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplatePaymentOverdue,
				}},
			},
			IsActive: true,
			Priority: 2,
		},
		{
			ID:          "payment-received-receipt",
			Name:        "Confirmação de pagamento",
			Description: "Emails a receipt for every confirmed payment.",
			Trigger:     models.Trigger{Type: models.TriggerPaymentReceived},
			Actions: []models.Action{
				{Kind: models.ActionSendEmail, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplatePaymentReceived,
				}},
			},
			IsActive: true,
			Priority: 2,
		},
		{
			ID:          "order-completion-followup",
			Name:        "Follow-up de ordem concluída",
			Description: "Thanks the client once the order reaches CONCLUIDA.",
			Trigger: models.Trigger{
				Type: models.TriggerOrderStatusChanged,
				Conditions: []models.Condition{
					{Field: "newStatus", Operator: models.OpEquals, Value: "CONCLUIDA"},
				},
			},
			Actions: []models.Action{
				{Kind: models.ActionSendEmail, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplateOrderCompleted,
				}},
			},
			IsActive: true,
			Priority: 3,
		},
		{
			ID:          "technician-assigned-notice",
			Name:        "Técnico atribuído",
			Description: "Tells the client who will handle the order.",
			Trigger:     models.Trigger{Type: models.TriggerTechnicianAssigned},
			Actions: []models.Action{
				{Kind: models.ActionSendEmail, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplateTechnicianAssigned,
				}},
				{Kind: models.ActionSendChatMessage, Config: map[string]any{
					models.ActionConfigTemplate: render.TemplateTechnicianAssigned,
				}},
			},
			IsActive: true,
			Priority: 3,
		},
	}
}
