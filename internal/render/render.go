// Package render turns a template identifier and a data bag into channel
// specific content. Channel constraints are enforced here, before a job ever
// reaches a provider.
package render

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/util"
)

var (
	// ErrUnknownTemplate is returned when no template is registered for the
	// channel and identifier.
	ErrUnknownTemplate = errors.New("render: unknown template")
	// ErrContentTooLong is returned when a length limited body cannot be
	// truncated without cutting a required value.
	ErrContentTooLong = errors.New("render: content too long")
	// ErrMissingField is returned when a required template value is absent.
	ErrMissingField = errors.New("render: missing required field")
)

// DefaultSMSBudget is the character budget of a single SMS segment.
const DefaultSMSBudget = 160

const ellipsis = "..."

const (
	emailLayoutHead = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.subject}}</title></head>
<body><div class="container"><div class="header"><h1>{{.companyName}}</h1></div><div class="content">
`
	emailLayoutFoot = `
</div><div class="footer"><p>{{.companyName}} | {{.supportEmail}} | {{.currentYear}}</p></div></div></body></html>`
)

// Message is rendered, channel ready content.
type Message struct {
	Channel    models.Channel    `json:"channel"`
	TemplateID string            `json:"templateId"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	HTML       string            `json:"html,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Template describes one channel template. Subject and HTML only apply to
// email; Fields lists the values copied into a chat message's structured
// payload.
type Template struct {
	ID       string         `yaml:"id"`
	Channel  models.Channel `yaml:"channel"`
	Subject  string         `yaml:"subject,omitempty"`
	Body     string         `yaml:"body"`
	HTML     string         `yaml:"html,omitempty"`
	Required []string       `yaml:"required,omitempty"`
	Fields   []string       `yaml:"fields,omitempty"`
}

type compiled struct {
	def     Template
	subject *template.Template
	body    *template.Template
	html    *htmltemplate.Template
}

type templateKey struct {
	channel models.Channel
	id      string
}

// Option customises the renderer.
type Option func(*Renderer)

// WithSMSBudget overrides the SMS character budget.
func WithSMSBudget(chars int) Option {
	return func(r *Renderer) {
		if chars > len(ellipsis) {
			r.smsBudget = chars
		}
	}
}

// WithGlobals adds values available to every template. Event data takes
// precedence over globals with the same key.
func WithGlobals(globals map[string]string) Option {
	return func(r *Renderer) {
		for k, v := range globals {
			r.globals[k] = v
		}
	}
}

// WithClock overrides the clock used for currentYear and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// Renderer holds the template registry and the locale formatter.
type Renderer struct {
	format    *Formatter
	smsBudget int
	globals   map[string]string
	now       func() time.Time

	mu        sync.RWMutex
	templates map[templateKey]*compiled
}

// New creates a renderer loaded with the built-in templates.
func New(locale, currencyCode string, opts ...Option) (*Renderer, error) {
	f, err := NewFormatter(locale, currencyCode)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		format:    f,
		smsBudget: DefaultSMSBudget,
		globals: map[string]string{
			"companyName":  "InterAlpha",
			"supportEmail": "suporte@interalpha.com",
			"portalURL":    "http://localhost:3000",
		},
		now:       time.Now,
		templates: make(map[templateKey]*compiled),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	for _, t := range defaultTemplates() {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles and adds a template, replacing any existing template
// with the same channel and identifier.
func (r *Renderer) Register(t Template) error {
	id, err := util.ValidateTemplateID(t.ID)
	if err != nil {
		return err
	}
	if !t.Channel.Valid() {
		return fmt.Errorf("render: template %q has invalid channel %q", t.ID, t.Channel)
	}
	if strings.TrimSpace(t.Body) == "" && strings.TrimSpace(t.HTML) == "" {
		return fmt.Errorf("render: template %q has no body", t.ID)
	}
	t.ID = id

	name := string(t.Channel) + "/" + id
	c := &compiled{def: t}

	if c.body, err = template.New(name).Option("missingkey=zero").Parse(t.Body); err != nil {
		return fmt.Errorf("render: parse %s body: %w", name, err)
	}
	if t.Channel == models.ChannelEmail {
		if c.subject, err = template.New(name + "/subject").Option("missingkey=zero").Parse(t.Subject); err != nil {
			return fmt.Errorf("render: parse %s subject: %w", name, err)
		}
		if strings.TrimSpace(t.HTML) != "" {
			layout := emailLayoutHead + t.HTML + emailLayoutFoot
			if c.html, err = htmltemplate.New(name + "/html").Option("missingkey=zero").Parse(layout); err != nil {
				return fmt.Errorf("render: parse %s html: %w", name, err)
			}
		}
	}

	r.mu.Lock()
	r.templates[templateKey{channel: t.Channel, id: id}] = c
	r.mu.Unlock()
	return nil
}

type overrideFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadFile registers the templates listed in a YAML file, overriding
// built-in templates with the same channel and identifier.
func (r *Renderer) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("render: read templates file: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("render: decode templates file: %w", err)
	}
	for i, t := range file.Templates {
		if err := r.Register(t); err != nil {
			return i, err
		}
	}
	return len(file.Templates), nil
}

// Has reports whether a template exists for the channel.
func (r *Renderer) Has(channel models.Channel, templateID string) bool {
	_, ok := r.lookup(channel, templateID)
	return ok
}

func (r *Renderer) lookup(channel models.Channel, templateID string) (*compiled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.templates[templateKey{channel: channel, id: strings.TrimSpace(templateID)}]
	return c, ok
}

// Render produces the channel specific content for templateID.
func (r *Renderer) Render(channel models.Channel, templateID string, data map[string]any) (*Message, error) {
	c, ok := r.lookup(channel, templateID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTemplate, channel, templateID)
	}

	bag := r.bag(data)
	for _, field := range c.def.Required {
		if strings.TrimSpace(bag[field]) == "" {
			return nil, fmt.Errorf("%w: %s (template %s)", ErrMissingField, field, c.def.ID)
		}
	}

	msg := &Message{Channel: channel, TemplateID: c.def.ID}

	body, err := execute(c.body, bag)
	if err != nil {
		return nil, err
	}
	msg.Body = strings.TrimSpace(body)

	switch channel {
	case models.ChannelEmail:
		if s := strings.TrimSpace(bag[models.ActionConfigSubject]); s != "" {
			msg.Subject = s
		} else if msg.Subject, err = execute(c.subject, bag); err != nil {
			return nil, err
		}
		msg.Subject = strings.TrimSpace(msg.Subject)
		if c.html != nil {
			bag["subject"] = msg.Subject
			var buf bytes.Buffer
			if err := c.html.Execute(&buf, bag); err != nil {
				return nil, fmt.Errorf("render: execute %s html: %w", c.def.ID, err)
			}
			msg.HTML = buf.String()
		}
	case models.ChannelSMS:
		if msg.Body, err = r.fitSMS(msg.Body, c.def, bag); err != nil {
			return nil, err
		}
	case models.ChannelChat:
		if len(c.def.Fields) > 0 {
			msg.Fields = make(map[string]string, len(c.def.Fields))
			for _, f := range c.def.Fields {
				if v := bag[f]; v != "" {
					msg.Fields[f] = v
				}
			}
		}
	}

	return msg, nil
}

// fitSMS truncates body to the budget with a trailing ellipsis. Truncation
// that would cut a required value is rejected instead.
func (r *Renderer) fitSMS(body string, def Template, bag map[string]string) (string, error) {
	if utf8.RuneCountInString(body) <= r.smsBudget {
		return body, nil
	}
	kept := string([]rune(body)[:r.smsBudget-len(ellipsis)])
	for _, field := range def.Required {
		if !strings.Contains(kept, bag[field]) {
			return "", fmt.Errorf("%w: %s would be cut from %d char sms (template %s)",
				ErrContentTooLong, field, r.smsBudget, def.ID)
		}
	}
	return kept + ellipsis, nil
}

func (r *Renderer) bag(data map[string]any) map[string]string {
	now := r.now()
	bag := make(map[string]string, len(r.globals)+len(data)+2)
	for k, v := range r.globals {
		bag[k] = v
	}
	bag["currentYear"] = strconv.Itoa(now.Year())
	bag["timestamp"] = r.format.Date(now)
	for k, v := range r.format.Bag(data) {
		bag[k] = v
	}
	return bag
}

func execute(t *template.Template, bag map[string]string) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, bag); err != nil {
		return "", fmt.Errorf("render: execute %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
