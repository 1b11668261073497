package domain

import (
	"fmt"
	"strings"
	"time"
)

// TemplateStatus represents the approval state of a template.
type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "DRAFT"
	TemplateApproved TemplateStatus = "APPROVED"
	TemplateRejected TemplateStatus = "REJECTED"
)

func (s TemplateStatus) String() string { return string(s) }

func (s TemplateStatus) IsValid() bool {
	switch s {
	case TemplateDraft, TemplateApproved, TemplateRejected:
		return true
	}
	return false
}

// Template is reusable message content with {{variable}} placeholders.
// Only approved templates may be used by an activating campaign.
type Template struct {
	ID        string
	TenantID  string
	Name      string
	Status    TemplateStatus
	Content   MessageContent
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTemplate(id, tenantID, name string, content MessageContent, now time.Time) (*Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(content.Text) == "" {
		return nil, fmt.Errorf("%w: template text is required", ErrValidation)
	}

	now = now.UTC()
	return &Template{
		ID:        id,
		TenantID:  tenantID,
		Name:      name,
		Status:    TemplateDraft,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *Template) Approve(now time.Time) error {
	if t.Status == TemplateRejected {
		return fmt.Errorf("%w: cannot approve rejected template", ErrInvalidState)
	}
	t.Status = TemplateApproved
	t.UpdatedAt = now.UTC()
	return nil
}

func (t *Template) Reject(now time.Time) error {
	if t.Status == TemplateApproved {
		return fmt.Errorf("%w: cannot reject approved template", ErrInvalidState)
	}
	t.Status = TemplateRejected
	t.UpdatedAt = now.UTC()
	return nil
}

func (t *Template) IsApproved() bool { return t.Status == TemplateApproved }

// Render substitutes {{key}} placeholders in the template text. Rich
// card and suggestions are copied through unchanged.
func (t *Template) Render(vars map[string]string) MessageContent {
	text := t.Content.Text
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}

	rendered := MessageContent{Text: text, Suggestions: t.Content.Suggestions}
	if t.Content.RichCard != nil {
		card := *t.Content.RichCard
		rendered.RichCard = &card
	}
	return rendered
}
