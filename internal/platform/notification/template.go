package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// Render substitutes {{key}} placeholders from data. Placeholders with no
// matching key are left in place so a truncated data map is visible in the
// delivered message rather than silently blanked.
func (t *Template) Render(data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body
}

// Decision outcome templates. The dispatcher derives the template ID from
// the outcome, so these IDs follow the "prescription-<outcome>" form.
var builtinTemplates = []Template{
	{
		ID:      "prescription-verified",
		Name:    "Prescription Verified",
		Subject: "Your prescription has been verified",
		Body:    "Your prescription {{prescription_id}} has been verified by a pharmacist. Order {{order_id}} is confirmed and being prepared.",
		Channel: ChannelEmail,
	},
	{
		ID:      "prescription-rejected",
		Name:    "Prescription Rejected",
		Subject: "Your prescription could not be verified",
		Body:    "Your prescription {{prescription_id}} was rejected: {{reason}}. Order {{order_id}} has been updated; please upload a valid prescription to continue.",
		Channel: ChannelEmail,
	},
	{
		ID:      "prescription-expired",
		Name:    "Prescription Expired",
		Subject: "Your prescription expired before review",
		Body:    "Your prescription {{prescription_id}} was not reviewed in time and has expired. Order {{order_id}} has been updated; please upload a new prescription.",
		Channel: ChannelEmail,
	},
	{
		ID:      "order-status-changed",
		Name:    "Order Status Changed",
		Subject: "Update on your order",
		Body:    "Your order {{order_id}} is now {{status}}.",
		Channel: ChannelEmail,
	},
}

// TemplateEngine holds notification templates by ID.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the built-in decision templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template, len(builtinTemplates))}
	for _, t := range builtinTemplates {
		e.Register(t)
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Lookup returns the template with the given ID.
func (e *TemplateEngine) Lookup(id string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render looks up a template and renders it with data.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Lookup(id)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}
	subject, body = t.Render(data)
	return subject, body, nil
}
