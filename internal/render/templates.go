package render

import "github.com/example/workflow-notifier/internal/models"

// Template identifiers shipped with the renderer.
const (
	TemplateOrderCreated         = "order-created"
	TemplateOrderStatusChanged   = "order-status-changed"
	TemplateOrderCompleted       = "order-completed"
	TemplatePaymentReceived      = "payment-received"
	TemplatePaymentOverdue       = "payment-overdue"
	TemplateTechnicianAssigned   = "technician-assigned"
	TemplateKeyExpirationWarning = "key-expiration-warning"
	TemplateTest                 = "test"
)

func defaultTemplates() []Template {
	return []Template{
		// email
		{
			ID:       TemplateOrderCreated,
			Channel:  models.ChannelEmail,
			Subject:  "Nova Ordem de Serviço #{{.orderNumber}} - {{.companyName}}",
			Required: []string{"orderNumber"},
			HTML: `<h2>Nova Ordem de Serviço Criada</h2>
<p>Olá {{.clientName}},</p>
<p>Uma nova ordem de serviço foi criada para você:</p>
<p><strong>Número:</strong> {{.orderNumber}}<br><strong>Serviço:</strong> {{.serviceName}}<br><strong>Status:</strong> {{.status}}</p>
{{if .description}}<p><strong>Descrição:</strong> {{.description}}</p>{{end}}
<p>Você será notificado sobre atualizações no status da sua ordem.</p>`,
			Body: "Olá {{.clientName}}, a ordem #{{.orderNumber}} ({{.serviceName}}) foi criada. Status: {{.status}}.",
		},
		{
			ID:       TemplateOrderStatusChanged,
			Channel:  models.ChannelEmail,
			Subject:  "Ordem #{{.orderNumber}}: status atualizado para {{.newStatus}}",
			Required: []string{"orderNumber"},
			HTML: `<h2>Status da Ordem Atualizado</h2>
<p>Olá {{.clientName}},</p>
<p>A ordem <strong>#{{.orderNumber}}</strong> mudou de <strong>{{.previousStatus}}</strong> para <strong>{{.newStatus}}</strong>.</p>`,
			Body: "Olá {{.clientName}}, a ordem #{{.orderNumber}} mudou de {{.previousStatus}} para {{.newStatus}}.",
		},
		{
			ID:       TemplateOrderCompleted,
			Channel:  models.ChannelEmail,
			Subject:  "Ordem #{{.orderNumber}} concluída - {{.companyName}}",
			Required: []string{"orderNumber"},
			HTML: `<h2>Ordem de Serviço Concluída</h2>
<p>Olá {{.clientName}},</p>
<p>Sua ordem <strong>#{{.orderNumber}}</strong> ({{.serviceName}}) foi concluída com sucesso.</p>
<p>Obrigado por escolher nossos serviços!</p>`,
			Body: "Olá {{.clientName}}, sua ordem #{{.orderNumber}} foi concluída. Obrigado!",
		},
		{
			ID:       TemplatePaymentReceived,
			Channel:  models.ChannelEmail,
			Subject:  "Pagamento confirmado - {{.companyName}}",
			Required: []string{"amount"},
			HTML: `<h2>Pagamento Recebido</h2>
<p>Olá {{.clientName}},</p>
<p>Confirmamos o recebimento de <strong>{{.amount}}</strong> via {{.paymentMethod}}.</p>
{{if .orderNumber}}<p>Referente à ordem #{{.orderNumber}}.</p>{{end}}`,
			Body: "Olá {{.clientName}}, confirmamos o pagamento de {{.amount}} via {{.paymentMethod}}.",
		},
		{
			ID:       TemplatePaymentOverdue,
			Channel:  models.ChannelEmail,
			Subject:  "Pagamento em atraso - {{.companyName}}",
			Required: []string{"amount"},
			HTML: `<h2>Pagamento em Atraso</h2>
<p>Olá {{.clientName}},</p>
<p>O pagamento de <strong>{{.amount}}</strong> venceu em {{.dueDate}} e está em atraso há {{.daysOverdue}} dias.</p>
<p>Regularize sua situação ou fale conosco em {{.supportEmail}}.</p>`,
			Body: "Olá {{.clientName}}, o pagamento de {{.amount}} está em atraso há {{.daysOverdue}} dias.",
		},
		{
			ID:       TemplateTechnicianAssigned,
			Channel:  models.ChannelEmail,
			Subject:  "Técnico designado para a ordem #{{.orderNumber}}",
			Required: []string{"orderNumber"},
			HTML: `<h2>Técnico Designado</h2>
<p>Olá {{.clientName}},</p>
<p>O técnico <strong>{{.technicianName}}</strong> foi designado para a ordem #{{.orderNumber}}.</p>
{{if .scheduledTime}}<p>Visita agendada para {{.scheduledTime}}.</p>{{end}}`,
			Body: "Olá {{.clientName}}, o técnico {{.technicianName}} foi designado para a ordem #{{.orderNumber}}.",
		},
		{
			ID:      TemplateKeyExpirationWarning,
			Channel: models.ChannelEmail,
			Subject: "Sua chave de acesso expira em {{.hoursRemaining}}h - {{.companyName}}",
			HTML: `<h2>Chave de Acesso Expirando</h2>
<p>Olá {{.clientName}},</p>
<p>Sua chave de acesso ao portal expira em {{.expiresAt}} (aproximadamente {{.hoursRemaining}} horas).</p>
<p>Solicite uma nova chave em <a href="{{.portalURL}}">{{.portalURL}}</a>.</p>`,
			Body: "Olá {{.clientName}}, sua chave de acesso expira em {{.expiresAt}}.",
		},
		{
			ID:      TemplateTest,
			Channel: models.ChannelEmail,
			Subject: "Teste de Email - {{.companyName}}",
			HTML:    `<h2>Teste de Configuração</h2><p>Este é um email de teste enviado em {{.timestamp}}.</p>`,
			Body:    "Teste de email enviado em {{.timestamp}}.",
		},

		// sms
		{ID: TemplateOrderCreated, Channel: models.ChannelSMS, Required: []string{"orderNumber"},
			Body: "{{.companyName}}: Nova ordem #{{.orderNumber}} criada. Status: {{.status}}. Acompanhe pelo sistema."},
		{ID: TemplateOrderCompleted, Channel: models.ChannelSMS, Required: []string{"orderNumber"},
			Body: "{{.companyName}}: Ordem #{{.orderNumber}} concluída! Obrigado por escolher nossos serviços."},
		{ID: TemplateOrderStatusChanged, Channel: models.ChannelSMS, Required: []string{"orderNumber"},
			Body: "{{.companyName}}: Ordem #{{.orderNumber}} - Status: {{.newStatus}}. Detalhes no sistema."},
		{ID: TemplatePaymentReceived, Channel: models.ChannelSMS, Required: []string{"amount"},
			Body: "{{.companyName}}: Pagamento de {{.amount}} confirmado via {{.paymentMethod}}. Obrigado!"},
		{ID: TemplatePaymentOverdue, Channel: models.ChannelSMS, Required: []string{"amount"},
			Body: "{{.companyName}}: Pagamento de {{.amount}} venceu há {{.daysOverdue}} dias. Regularize sua situação."},
		{ID: TemplateTechnicianAssigned, Channel: models.ChannelSMS, Required: []string{"orderNumber"},
			Body: "{{.companyName}}: Técnico {{.technicianName}} designado para ordem #{{.orderNumber}}. Tel: {{.technicianPhone}}"},
		{ID: TemplateKeyExpirationWarning, Channel: models.ChannelSMS,
			Body: "{{.companyName}}: Sua chave de acesso expira em {{.hoursRemaining}}h ({{.expiresAt}}). Solicite uma nova no portal."},
		{ID: TemplateTest, Channel: models.ChannelSMS,
			Body: "{{.companyName}}: Teste de SMS - {{.timestamp}}"},

		// chat
		{ID: TemplateOrderCreated, Channel: models.ChannelChat, Required: []string{"orderNumber"},
			Fields: []string{"orderNumber", "serviceName", "status"},
			Body:   "*{{.companyName}} - Nova Ordem*\n\nOlá {{.clientName}}!\n\nSua ordem de serviço foi criada:\n*Número:* {{.orderNumber}}\n*Serviço:* {{.serviceName}}\n*Status:* {{.status}}\n\nVocê será notificado sobre atualizações."},
		{ID: TemplateOrderCompleted, Channel: models.ChannelChat, Required: []string{"orderNumber"},
			Fields: []string{"orderNumber", "serviceName"},
			Body:   "*{{.companyName}} - Ordem Concluída*\n\nÓtima notícia, {{.clientName}}!\n\nSua ordem *{{.orderNumber}}* foi concluída com sucesso.\n\nObrigado por escolher nossos serviços!"},
		{ID: TemplateOrderStatusChanged, Channel: models.ChannelChat, Required: []string{"orderNumber"},
			Fields: []string{"orderNumber", "previousStatus", "newStatus"},
			Body:   "*{{.companyName}} - Status Atualizado*\n\nOlá {{.clientName}}!\n\nOrdem *{{.orderNumber}}*: {{.previousStatus}} → *{{.newStatus}}*"},
		{ID: TemplatePaymentReceived, Channel: models.ChannelChat, Required: []string{"amount"},
			Fields: []string{"amount", "paymentMethod"},
			Body:   "*{{.companyName}} - Pagamento Confirmado*\n\nOlá {{.clientName}}!\n\nRecebemos {{.amount}} via {{.paymentMethod}}. Obrigado!"},
		{ID: TemplatePaymentOverdue, Channel: models.ChannelChat, Required: []string{"amount"},
			Fields: []string{"amount", "daysOverdue"},
			Body:   "*{{.companyName}} - Pagamento em Atraso*\n\nOlá {{.clientName}},\n\nO pagamento de *{{.amount}}* venceu há {{.daysOverdue}} dias. Regularize sua situação."},
		{ID: TemplateTechnicianAssigned, Channel: models.ChannelChat, Required: []string{"orderNumber"},
			Fields: []string{"orderNumber", "technicianName", "technicianPhone"},
			Body:   "*{{.companyName}} - Técnico Designado*\n\nOlá {{.clientName}}!\n\n*Técnico:* {{.technicianName}}\n*Ordem:* {{.orderNumber}}\n*Contato:* {{.technicianPhone}}"},
		{ID: TemplateKeyExpirationWarning, Channel: models.ChannelChat,
			Fields: []string{"expiresAt", "hoursRemaining"},
			Body:   "*{{.companyName}} - Chave de Acesso*\n\nOlá {{.clientName}}, sua chave de acesso expira em {{.expiresAt}}. Solicite uma nova em {{.portalURL}}."},
		{ID: TemplateTest, Channel: models.ChannelChat,
			Body: "*{{.companyName}}* - Teste de mensagem enviado em {{.timestamp}}"},
	}
}
