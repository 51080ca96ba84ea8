package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"linkdeck/internal/publish"
)

// bodyKeys are the fields shown under an entry's label, first match wins.
var bodyKeys = []string{"answer", "description", "content"}

type Service struct {
	pdf func(ctx context.Context, html string) ([]byte, error)
}

type Option func(*Service)

// WithChromePath pins the browser binary used for PDF output instead of
// searching PATH.
func WithChromePath(path string) Option {
	return func(s *Service) { s.pdf = chromePrinter(path) }
}

func NewService(opts ...Option) *Service {
	s := &Service{pdf: chromePrinter("")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders profile under title in the requested format.
func (s *Service) Export(ctx context.Context, profile publish.Profile, title string, format Format) (*Result, error) {
	if title == "" {
		title = profile.UserID
	}
	html, err := RenderProfileHTML(templateData(profile, title))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func templateData(profile publish.Profile, title string) TemplateData {
	kinds := make([]string, 0, len(profile.Sections))
	for kind := range profile.Sections {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	data := TemplateData{Title: title, PublishedAt: profile.PublishedAt}
	for _, kind := range kinds {
		data.Sections = append(data.Sections, TemplateSection{Kind: kind, Entries: templateEntries(profile.Sections[kind])})
	}
	return data
}

func templateEntries(entries []publish.Entry) []TemplateEntry {
	out := make([]TemplateEntry, 0, len(entries))
	for _, e := range entries {
		te := TemplateEntry{Label: e.Label, Children: templateEntries(e.Children)}
		if u := e.Values["url"]; strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
			te.URL = u
		}
		for _, key := range bodyKeys {
			if v := strings.TrimSpace(e.Values[key]); v != "" {
				te.Body = v
				break
			}
		}
		out = append(out, te)
	}
	return out
}
