package handler

import (
	"embed"
	"html/template"
	"strings"

	"github.com/fixfirst/web/internal/views"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the page templates. The result is meant for
// gin.Engine.SetHTMLTemplate.
func Templates() *template.Template {
	funcs := template.FuncMap{
		"confidence": views.ConfidenceLabel,
		"join":       strings.Join,
	}
	return template.Must(template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
