package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"trainingportal/internal/model"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New("https://portal.example.com/")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRenderEveryKind(t *testing.T) {
	r := newRenderer(t)
	recipient := model.Recipient{ID: 1, Email: "a@example.com", DisplayName: "Ada"}
	payload := model.Payload{"title": "Onboarding", "deadline": time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)}

	for _, kind := range model.AllKinds {
		t.Run(string(kind), func(t *testing.T) {
			msg, err := r.Render(kind, model.Target{ID: 42, Type: model.TargetWorkstream}, payload, recipient)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(msg.Subject, "Onboarding") {
				t.Errorf("subject = %q, want title", msg.Subject)
			}
			if !strings.Contains(msg.HTMLBody, "Hello Ada") {
				t.Errorf("body missing greeting: %s", msg.HTMLBody)
			}
			if !strings.Contains(msg.HTMLBody, "https://portal.example.com/workstreams/42") {
				t.Errorf("body missing link: %s", msg.HTMLBody)
			}
		})
	}
}

func TestRenderEscapesPayload(t *testing.T) {
	r := newRenderer(t)
	msg, err := r.Render(model.KindNewChapter, model.Target{ID: 1, Type: model.TargetChapter},
		model.Payload{"title": "<script>x</script>"}, model.Recipient{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(msg.HTMLBody, "<script>") {
		t.Errorf("body not escaped: %s", msg.HTMLBody)
	}
	if !strings.Contains(msg.HTMLBody, "Hello there") {
		t.Errorf("body missing fallback greeting: %s", msg.HTMLBody)
	}
}

func TestRenderUpdateListsChanges(t *testing.T) {
	r := newRenderer(t)
	payload := model.Payload{"title": "Safety", "changes": map[string]any{"deadline": "2024-06-01"}}
	msg, err := r.Render(model.KindUpdate, model.Target{ID: 3, Type: model.TargetAssessment}, payload, model.Recipient{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(msg.HTMLBody, "<li>deadline: 2024-06-01</li>") {
		t.Errorf("body missing change list: %s", msg.HTMLBody)
	}
	if msg.Subject != "Updated assessment: Safety" {
		t.Errorf("subject = %q", msg.Subject)
	}
}

func TestRenderUnknownKind(t *testing.T) {
	r := newRenderer(t)
	_, err := r.Render(model.Kind("bogus"), model.Target{}, nil, model.Recipient{})
	if !errors.Is(err, model.ErrTemplateRender) {
		t.Errorf("Render() error = %v, want ErrTemplateRender", err)
	}
}
