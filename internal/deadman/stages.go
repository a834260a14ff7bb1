package deadman

import (
	"bytes"
	"fmt"
	"html/template"
)

// Audience selects who receives a stage's notification.
type Audience int

const (
	// AudienceOwner is the owner's own address (reminder stages).
	AudienceOwner Audience = iota
	// AudienceRecipients is the designated notify list (final disclosure).
	AudienceRecipients
)

func (a Audience) String() string {
	if a == AudienceOwner {
		return "owner"
	}
	return "recipients"
}

// StageSpec describes the notification sent when a stage is first reached.
type StageSpec struct {
	Stage    int
	Audience Audience
	Final    bool
}

// Stages is the escalation table indexed by stage number. Stage 0 is the
// quiet first month and has no notification.
var Stages = [MaxStage + 1]StageSpec{
	{Stage: 0},
	{Stage: 1, Audience: AudienceOwner},
	{Stage: 2, Audience: AudienceOwner},
	{Stage: 3, Audience: AudienceOwner},
	{Stage: 4, Audience: AudienceOwner},
	{Stage: 5, Audience: AudienceOwner},
	{Stage: 6, Audience: AudienceRecipients, Final: true},
}

var (
	reminderTmpl = template.Must(template.New("reminder").Parse(`
<h2>No activity detected</h2>
<p>You have not checked in to your journal for {{.Stage}} month(s).</p>
<p>Open the journal and check in to stop the sequence. After {{.MaxStage}} months your designated contacts receive access.</p>
<p><a href="{{.AppURL}}">{{.AppURL}}</a></p>
`))

	disclosureTmpl = template.Must(template.New("disclosure").Parse(`
<h2>Dead Man's Switch activated - month {{.MaxStage}}</h2>
<p>The journal owner has not been active for {{.MaxStage}} months.</p>
<p>You were designated to receive access to the journal:</p>
<p><a href="{{.AppURL}}">{{.AppURL}}</a></p>
`))

	triggeredTmpl = template.Must(template.New("triggered").Parse(`
<h2>Dead Man's Switch triggered</h2>
<p>The journal owner has not checked in for more than {{.Hours}} hours.</p>
<p>Journal access:</p>
<p><a href="{{.AppURL}}">{{.AppURL}}</a></p>
`))
)

type templateData struct {
	Stage    int
	MaxStage int
	Hours    int
	AppURL   string
}

// Compose renders the subject and HTML body for a stage notification.
func (s StageSpec) Compose(appURL string) (subject, html string, err error) {
	data := templateData{Stage: s.Stage, MaxStage: MaxStage, AppURL: appURL}
	if s.Final {
		subject = fmt.Sprintf("Dead Man's Switch: access sent (month %d)", MaxStage)
		html, err = render(disclosureTmpl, data)
		return subject, html, err
	}
	subject = fmt.Sprintf("Dead Man's Switch reminder - month %d of %d", s.Stage, MaxStage)
	html, err = render(reminderTmpl, data)
	return subject, html, err
}

// composeTriggered renders the single notice of the binary policy.
func composeTriggered(appURL string, checkInHours int) (subject, html string, err error) {
	html, err = render(triggeredTmpl, templateData{Hours: checkInHours, AppURL: appURL})
	return "Dead Man's Switch triggered", html, err
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
