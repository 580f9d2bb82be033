// Package render turns a notification kind and payload into an email subject and HTML body.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"trainingportal/internal/model"
)

// Message is a rendered email.
type Message struct {
	Subject  string
	HTMLBody string
}

// Data is what templates see.
type Data struct {
	Recipient model.Recipient
	Target    model.Target
	Payload   model.Payload
	PortalURL string
}

type templatePair struct {
	subject *texttemplate.Template
	body    *template.Template
}

// Renderer holds one compiled subject and body template per kind.
type Renderer struct {
	portalURL string
	templates map[model.Kind]templatePair
}

var funcs = map[string]any{
	"date": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format("Mon, 02 Jan 2006")
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed.Format("Mon, 02 Jan 2006")
			}
			return t
		default:
			return fmt.Sprint(v)
		}
	},
	"title": func(v any) string {
		s := fmt.Sprint(v)
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

// New compiles the built-in templates for every kind.
func New(portalURL string) (*Renderer, error) {
	r := &Renderer{
		portalURL: strings.TrimRight(portalURL, "/"),
		templates: make(map[model.Kind]templatePair, len(model.AllKinds)),
	}
	for _, kind := range model.AllKinds {
		subject, body := sources(kind)
		if subject == "" {
			return nil, fmt.Errorf("no template for kind %s", kind)
		}
		st, err := texttemplate.New(string(kind) + ".subject").Funcs(funcs).Option("missingkey=zero").Parse(subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		bt, err := template.New(string(kind) + ".body").Funcs(funcs).Option("missingkey=zero").Parse(layoutHead + body + layoutFoot)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
		r.templates[kind] = templatePair{subject: st, body: bt}
	}
	return r, nil
}

// Render produces the message for one recipient. It has no side effects.
func (r *Renderer) Render(kind model.Kind, target model.Target, payload model.Payload, recipient model.Recipient) (Message, error) {
	pair, ok := r.templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown kind %q", model.ErrTemplateRender, kind)
	}

	data := Data{
		Recipient: recipient,
		Target:    target,
		Payload:   payload,
		PortalURL: r.portalURL,
	}
	if data.Payload == nil {
		data.Payload = model.Payload{}
	}

	var subject, body bytes.Buffer
	if err := pair.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("%w: %s subject: %v", model.ErrTemplateRender, kind, err)
	}
	if err := pair.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("%w: %s body: %v", model.ErrTemplateRender, kind, err)
	}

	return Message{
		Subject:  strings.TrimSpace(subject.String()),
		HTMLBody: body.String(),
	}, nil
}
