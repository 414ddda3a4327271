// Package view renders the HTML pages of the site from embedded templates.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/elgarage/garage/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// Page names accepted by Render.
const (
	PageIndex          = "index"
	PageLogin          = "login"
	PageRegister       = "register"
	PagePassword       = "password"
	PageProfile        = "profile"
	PageAdminDashboard = "admin_dashboard"
	PageAdminUsers     = "admin_users"
	PageAdminUserEdit  = "admin_user_edit"
	PageError          = "error"
)

// PageData is what every page template receives.
type PageData struct {
	Title     string
	Session   *models.Session
	CSRFToken string
	Errors    []string
	Notice    string
	// Form holds submitted values so a rejected form keeps its input.
	Form map[string]string
	// Data is page specific.
	Data any
}

// RoleCount is one row of the admin dashboard.
type RoleCount struct {
	Role  models.Role
	Count int
}

// Renderer executes the parsed page templates.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"roles":  func() []models.Role { return models.Roles },
	"gender": func() []string { return []string{models.GenderMale, models.GenderFemale, models.GenderOther} },
}

// New parses the layout together with every page template.
func New() (*Renderer, error) {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		name := strings.TrimSuffix(path.Base(file), ".html")

		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, layoutFile, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}

	return r, nil
}

// Render writes page with status. Nothing is written if execution fails.
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
