package render

import "trainingportal/internal/model"

const layoutHead = `<!DOCTYPE html>
<html><body style="font-family: sans-serif">
<p>Hello {{if .Recipient.DisplayName}}{{.Recipient.DisplayName}}{{else}}there{{end}},</p>
`

const layoutFoot = `
{{if .PortalURL}}<p><a href="{{.PortalURL}}/{{.Target.Type}}s/{{.Target.ID}}">Open in the training portal</a></p>{{end}}
</body></html>
`

// sources returns the subject and body template text for kind.
func sources(kind model.Kind) (subject, body string) {
	switch kind {
	case model.KindNewWorkstream:
		return `New workstream: {{.Payload.title}}`,
			`<p>A new workstream <strong>{{.Payload.title}}</strong> has been published.</p>
{{with .Payload.description}}<p>{{.}}</p>{{end}}`
	case model.KindNewChapter:
		return `New chapter: {{.Payload.title}}`,
			`<p>A new chapter <strong>{{.Payload.title}}</strong> is available.</p>`
	case model.KindNewAssessment:
		return `New assessment: {{.Payload.title}}`,
			`<p>A new assessment <strong>{{.Payload.title}}</strong> is available.</p>
{{with .Payload.deadline}}<p>Due {{date .}}.</p>{{end}}`
	case model.KindUpdate:
		return `Updated {{.Target.Type}}: {{.Payload.title}}`,
			`<p>The {{.Target.Type}} <strong>{{.Payload.title}}</strong> was updated.</p>
{{with .Payload.changes}}<ul>{{range $field, $value := .}}<li>{{$field}}: {{$value}}</li>{{end}}</ul>{{end}}`
	case model.KindReminder:
		return `Reminder: {{.Payload.title}}`,
			`<p>This is a reminder about <strong>{{.Payload.title}}</strong>.</p>
{{with .Payload.message}}<p>{{.}}</p>{{end}}`
	case model.KindCompletion:
		return `Congratulations on completing {{.Payload.title}}`,
			`<p>You have completed the workstream <strong>{{.Payload.title}}</strong>.</p>`
	case model.KindOverdue:
		return `Overdue: {{.Payload.title}}`,
			`<p>The {{.Target.Type}} <strong>{{.Payload.title}}</strong> was due {{date .Payload.deadline}}{{with .Payload.days_overdue}} ({{.}} days ago){{end}}.</p>`
	case model.KindReassignment:
		return `You have been assigned {{.Payload.title}}`,
			`<p>The {{.Target.Type}} <strong>{{.Payload.title}}</strong> has been assigned to you.</p>`
	case model.KindCancellation:
		return `Cancelled: {{.Payload.title}}`,
			`<p>The {{.Target.Type}} <strong>{{.Payload.title}}</strong> has been cancelled.</p>`
	case model.KindDeadlineReminderWeek:
		return `{{title .Target.Type}} due in one week: {{.Payload.title}}`,
			`<p><strong>{{.Payload.title}}</strong> is due {{date .Payload.deadline}}, about a week from now.</p>`
	case model.KindDeadlineReminderDay:
		return `{{title .Target.Type}} due soon: {{.Payload.title}}`,
			`<p><strong>{{.Payload.title}}</strong> is due {{date .Payload.deadline}}.</p>`
	}
	return "", ""
}
