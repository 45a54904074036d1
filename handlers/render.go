// lanclip/handlers/render.go

package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"lanclip/config"
	"lanclip/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	templates *template.Template
)

// LoadTemplates parses the embedded HTML templates.
func LoadTemplates() error {
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
		"formatISO":  func(t time.Time) string { return t.Format(time.RFC3339) },
		// withKey appends the board key so links keep working on gated boards.
		"withKey": func(path, key string) string {
			if key == "" {
				return path
			}
			return path + "?key=" + url.QueryEscape(key)
		},
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"thumbURL": func(b64 string) template.URL {
			return template.URL("data:image/jpeg;base64," + b64)
		},
		"humanSize": func(n int64) string {
			switch {
			case n >= 1024*1024:
				return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
			case n >= 1024:
				return fmt.Sprintf("%.1f KB", float64(n)/1024)
			default:
				return fmt.Sprintf("%d B", n)
			}
		},
	}
	parsed, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	templates = parsed
	return nil
}

// render executes contentTmpl and wraps it in the layout.
func render(w http.ResponseWriter, r *http.Request, app App, status int, contentTmpl string, data map[string]interface{}) {
	logger := app.Logger().With("template", contentTmpl)
	if data == nil {
		data = make(map[string]interface{})
	}
	data["AppVersion"] = config.AppVersion
	data["MaxUploadMB"] = app.Config().MaxUploadMB
	data["MaxTextLen"] = config.MaxTextLen

	contentBuf := new(bytes.Buffer)
	if err := templates.ExecuteTemplate(contentBuf, contentTmpl, data); err != nil {
		logger.Error("Error rendering content template", "error", err)
		http.Error(w, "Failed to render page content", http.StatusInternalServerError)
		return
	}
	data["Content"] = template.HTML(contentBuf.String())

	pageBuf := new(bytes.Buffer)
	if err := templates.ExecuteTemplate(pageBuf, "layout.html", data); err != nil {
		logger.Error("Error rendering layout template", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := pageBuf.WriteTo(w); err != nil {
		logger.Warn("Failed to write page", "error", err)
	}
}

// renderEntry renders the fragment for one entry, as used both in the board
// page and in live events.
func renderEntry(slug, key string, entry models.Entry) (string, error) {
	buf := new(bytes.Buffer)
	err := templates.ExecuteTemplate(buf, "entry.html", map[string]interface{}{
		"Slug":  slug,
		"Key":   key,
		"Entry": entry,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
