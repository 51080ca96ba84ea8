package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var profileTemplate = template.Must(
	template.New("profile.html").Funcs(template.FuncMap{
		"title": sectionTitle,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/profile.html"),
)

// TemplateData holds data for profile template rendering
type TemplateData struct {
	Title       string
	PublishedAt time.Time
	Sections    []TemplateSection
}

type TemplateSection struct {
	Kind    string
	Entries []TemplateEntry
}

type TemplateEntry struct {
	Label    string
	URL      string
	Body     string
	Children []TemplateEntry
}

func RenderProfileHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := profileTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sectionTitle turns a kind name like faq_category into "Faq category".
func sectionTitle(kind string) string {
	s := strings.ReplaceAll(kind, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
