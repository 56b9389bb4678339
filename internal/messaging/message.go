package messaging

import (
	"iter"
	"strings"
	"sync"
)

// Payload is the JSON body posted to the messaging provider. Payloads handed
// out by a Message are shared and must be treated as read-only.
type Payload = map[string]any

const (
	messagingProduct = "whatsapp"

	TypeTemplate    = "template"
	TypeText        = "text"
	TypeInteractive = "interactive"

	DefaultTemplateLocale = "en_US"
	DefaultAuthTemplate   = "test_auth"
)

// Message is the closed set of outbound notifications. Every variant yields
// one payload per recipient.
type Message interface {
	Payloads() iter.Seq[Payload]
	sealed()
}

// Single is implemented by variants addressed to exactly one recipient.
type Single interface {
	Message
	Payload() Payload
}

// NormalizeRecipient returns phone with exactly one leading "+".
func NormalizeRecipient(phone string) string {
	return "+" + strings.Trim(strings.TrimSpace(phone), "+")
}

func baseEnvelope(recipient, kind string) Payload {
	return Payload{
		"messaging_product": messagingProduct,
		"recipient_type":    "individual",
		"to":                NormalizeRecipient(recipient),
		"type":              kind,
	}
}

func templateObject(name, locale string) map[string]any {
	return map[string]any{
		"name":     name,
		"language": map[string]any{"code": locale},
	}
}

// AuthCodeMessage delivers a verification code through an approved
// authentication template. The code is carried both as body text and as the
// copy-code URL button parameter.
type AuthCodeMessage struct {
	recipient string
	code      string
	template  string
	locale    string
	payload   func() Payload
}

var _ Single = (*AuthCodeMessage)(nil)

// NewAuthCodeMessage builds an auth code message. Empty template or locale
// fall back to DefaultAuthTemplate and DefaultTemplateLocale.
func NewAuthCodeMessage(recipient, code, template, locale string) (*AuthCodeMessage, error) {
	if strings.Trim(strings.TrimSpace(recipient), "+") == "" {
		return nil, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "is required"}
	}
	if template == "" {
		template = DefaultAuthTemplate
	}
	if locale == "" {
		locale = DefaultTemplateLocale
	}
	m := &AuthCodeMessage{recipient: recipient, code: code, template: template, locale: locale}
	m.payload = sync.OnceValue(m.build)
	return m, nil
}

func (m *AuthCodeMessage) Recipient() string { return m.recipient }
func (m *AuthCodeMessage) Code() string      { return m.code }

func (m *AuthCodeMessage) Payload() Payload { return m.payload() }

func (m *AuthCodeMessage) Payloads() iter.Seq[Payload] { return once(m.Payload) }

func (m *AuthCodeMessage) sealed() {}

func (m *AuthCodeMessage) build() Payload {
	codeParam := []any{map[string]any{"type": "text", "text": m.code}}

	tpl := templateObject(m.template, m.locale)
	tpl["components"] = []any{
		map[string]any{
			"type":       "body",
			"parameters": codeParam,
		},
		map[string]any{
			"type":       "button",
			"sub_type":   "url",
			"index":      "0",
			"parameters": codeParam,
		},
	}

	p := baseEnvelope(m.recipient, TypeTemplate)
	p["template"] = tpl
	return p
}

// CTA carries the visible parts of an interactive call-to-action message.
type CTA struct {
	Header      string
	Body        string
	Footer      string
	DisplayText string
	URL         string
}

// WelcomeCTA is the call-to-action sent to guests once they are authorized.
func WelcomeCTA(placeName, url string) CTA {
	return CTA{
		Header:      "Welcome To " + placeName,
		Body:        "To get wifi access please join the group.",
		Footer:      placeName,
		DisplayText: "Join",
		URL:         url,
	}
}

// CTAMessage is an interactive cta_url message.
type CTAMessage struct {
	recipient string
	cta       CTA
	payload   func() Payload
}

var _ Single = (*CTAMessage)(nil)

func NewCTAMessage(recipient string, cta CTA) (*CTAMessage, error) {
	if strings.Trim(strings.TrimSpace(recipient), "+") == "" {
		return nil, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	if cta.Body == "" {
		return nil, &ValidationError{Field: "body", Reason: "is required for interactive messages"}
	}
	if cta.DisplayText == "" || cta.URL == "" {
		return nil, &ValidationError{Field: "action", Reason: "display text and url are required"}
	}
	m := &CTAMessage{recipient: recipient, cta: cta}
	m.payload = sync.OnceValue(m.build)
	return m, nil
}

func (m *CTAMessage) Recipient() string { return m.recipient }

func (m *CTAMessage) Payload() Payload { return m.payload() }

func (m *CTAMessage) Payloads() iter.Seq[Payload] { return once(m.Payload) }

func (m *CTAMessage) sealed() {}

func (m *CTAMessage) build() Payload {
	interactive := map[string]any{
		"type": "cta_url",
		"header": map[string]any{
			"type": "text",
			"text": m.cta.Header,
		},
		"body": map[string]any{"text": m.cta.Body},
		"action": map[string]any{
			"name": "cta_url",
			"parameters": map[string]any{
				"display_text": m.cta.DisplayText,
				"url":          m.cta.URL,
			},
		},
	}
	if m.cta.Footer != "" {
		interactive["footer"] = map[string]any{"text": m.cta.Footer}
	}

	p := baseEnvelope(m.recipient, TypeInteractive)
	p["interactive"] = interactive
	return p
}

// TemplateMessage fans one template or plain text message out to many
// recipients, one payload each.
type TemplateMessage struct {
	recipients  []string
	template    string
	locale      string
	messageType string
	content     *string
}

var _ Message = (*TemplateMessage)(nil)

// NewTemplateMessage validates the combination of type and content. A
// messageType other than TypeTemplate requires non-empty content. Empty
// messageType means TypeTemplate.
func NewTemplateMessage(recipients []string, template, locale, messageType string, content *string) (*TemplateMessage, error) {
	if messageType == "" {
		messageType = TypeTemplate
	}
	if messageType != TypeTemplate && (content == nil || *content == "") {
		return nil, &ValidationError{Field: "content", Reason: "is required for " + messageType + " messages"}
	}
	if locale == "" {
		locale = DefaultTemplateLocale
	}
	return &TemplateMessage{
		recipients:  append([]string(nil), recipients...),
		template:    template,
		locale:      locale,
		messageType: messageType,
		content:     content,
	}, nil
}

func (m *TemplateMessage) Recipients() []string { return append([]string(nil), m.recipients...) }

// Payloads builds each recipient's payload only when the consumer pulls it.
func (m *TemplateMessage) Payloads() iter.Seq[Payload] {
	return func(yield func(Payload) bool) {
		for _, r := range m.recipients {
			if !yield(m.payloadFor(r)) {
				return
			}
		}
	}
}

func (m *TemplateMessage) sealed() {}

func (m *TemplateMessage) payloadFor(recipient string) Payload {
	p := baseEnvelope(recipient, m.messageType)
	if m.messageType == TypeTemplate {
		p["template"] = templateObject(m.template, m.locale)
		return p
	}
	p[m.messageType] = map[string]any{"body": *m.content}
	return p
}

func once(payload func() Payload) iter.Seq[Payload] {
	return func(yield func(Payload) bool) {
		yield(payload())
	}
}
