package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/render"
)

// Order describes an order for the order presets.
type Order struct {
	ClientName     string
	OrderNumber    string
	ServiceName    string
	Status         string
	Description    string
	PreviousStatus string
	NewStatus      string
}

func (o Order) data() map[string]any {
	return map[string]any{
		"clientName":     o.ClientName,
		"orderNumber":    o.OrderNumber,
		"serviceName":    o.ServiceName,
		"status":         o.Status,
		"description":    o.Description,
		"previousStatus": o.PreviousStatus,
		"newStatus":      o.NewStatus,
	}
}

// Payment describes a payment for the payment presets.
type Payment struct {
	ClientName    string
	Amount        float64
	PaymentMethod string
	DueDate       time.Time
	DaysOverdue   int
	TransactionID string
	OrderNumber   string
}

func (p Payment) data() map[string]any {
	d := map[string]any{
		"clientName":    p.ClientName,
		"amount":        p.Amount,
		"paymentMethod": p.PaymentMethod,
		"daysOverdue":   p.DaysOverdue,
		"transactionId": p.TransactionID,
		"orderNumber":   p.OrderNumber,
	}
	if !p.DueDate.IsZero() {
		d["dueDate"] = p.DueDate
	}
	return d
}

// TechnicianAssignment describes a technician dispatched to an order.
type TechnicianAssignment struct {
	ClientName      string
	OrderNumber     string
	ServiceName     string
	TechnicianName  string
	TechnicianPhone string
	ScheduledTime   time.Time
}

func (t TechnicianAssignment) data() map[string]any {
	d := map[string]any{
		"clientName":      t.ClientName,
		"orderNumber":     t.OrderNumber,
		"serviceName":     t.ServiceName,
		"technicianName":  t.TechnicianName,
		"technicianPhone": t.TechnicianPhone,
	}
	if !t.ScheduledTime.IsZero() {
		d["scheduledTime"] = t.ScheduledTime
	}
	return d
}

// SendOrderCreated notifies a client that an order was opened.
func (s *Service) SendOrderCreated(ctx context.Context, channel models.Channel, recipient string, order Order, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplateOrderCreated, order.data(), correlationID)
}

// SendOrderStatusChanged notifies a client of an order status transition.
func (s *Service) SendOrderStatusChanged(ctx context.Context, channel models.Channel, recipient string, order Order, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplateOrderStatusChanged, order.data(), correlationID)
}

// SendOrderCompleted notifies a client that an order was finished.
func (s *Service) SendOrderCompleted(ctx context.Context, channel models.Channel, recipient string, order Order, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplateOrderCompleted, order.data(), correlationID)
}

// SendPaymentReceived confirms a payment.
func (s *Service) SendPaymentReceived(ctx context.Context, channel models.Channel, recipient string, payment Payment, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplatePaymentReceived, payment.data(), correlationID)
}

// SendPaymentOverdue reminds a client of an overdue payment.
func (s *Service) SendPaymentOverdue(ctx context.Context, channel models.Channel, recipient string, payment Payment, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplatePaymentOverdue, payment.data(), correlationID)
}

// SendTechnicianAssigned tells a client which technician will handle the order.
func (s *Service) SendTechnicianAssigned(ctx context.Context, channel models.Channel, recipient string, assignment TechnicianAssignment, correlationID string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplateTechnicianAssigned, assignment.data(), correlationID)
}

// SendKeyExpirationWarning warns a client that their access key expires in
// about hours. Email is preferred; SMS is used when the contact has no email.
// The key value itself is never included.
func (s *Service) SendKeyExpirationWarning(ctx context.Context, contact models.ClientContact, expiresAt time.Time, hours int, correlationID string) (*models.DispatchJob, error) {
	channel, recipient := models.ChannelEmail, contact.Email
	if recipient == "" {
		channel, recipient = models.ChannelSMS, contact.Phone
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: client %s has no email or phone", ErrValidation, contact.ClientID)
	}
	data := map[string]any{
		"clientName":     contact.Name,
		"expiresAt":      expiresAt,
		"hoursRemaining": hours,
	}
	return s.Send(ctx, Request{
		Channel:       channel,
		Recipient:     recipient,
		TemplateID:    render.TemplateKeyExpirationWarning,
		Data:          data,
		CorrelationID: correlationID,
		PartitionKey:  contact.ClientID,
	})
}

// SendTest sends the channel's test template to recipient.
func (s *Service) SendTest(ctx context.Context, channel models.Channel, recipient string) (*models.DispatchJob, error) {
	return s.SendTemplated(ctx, channel, recipient, render.TemplateTest, nil, "")
}
