package templates

import (
	"bytes"
	_ "embed"
	"html/template"
	"time"
)

//go:embed alert.html
var alertHTML string

var alertTmpl = template.Must(template.New("alert").Parse(alertHTML))

// AlertData fills the generic alert layout.
type AlertData struct {
	Subject   string
	Heading   string
	Summary   string
	Detail    string // Optional, rendered preformatted
	Service   string // Auto-set if empty
	Timestamp string // Auto-set if empty
}

func RenderAlert(data AlertData) (string, error) {
	if data.Service == "" {
		data.Service = "sync-service"
	}
	if data.Timestamp == "" {
		data.Timestamp = time.Now().UTC().Format(time.RFC1123)
	}
	var buf bytes.Buffer
	if err := alertTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
