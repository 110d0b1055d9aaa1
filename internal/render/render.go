package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"sync"

	"radsite/internal/auth"
	"radsite/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pages that render inside the base layout.
var pages = []string{"home", "login", "list", "detail", "action", "error"}

// Fragments rendered on their own.
var fragments = []string{"embed_list", "embed_detail", "embed_noexist"}

type Link struct {
	Label string
	Icon  string
	URL   string
}

// Page is the data handed to the base layout.
type Page struct {
	Site     string
	Title    string
	User     *domain.User
	Level    auth.Level
	Messages []auth.Message
	Nav      []Link
	Data     any
}

type Renderer struct {
	Site   string
	Nav    func() []Link
	Funcs  template.FuncMap
	Logger *log.Logger

	once  sync.Once
	err   error
	pages map[string]*template.Template
	frags map[string]*template.Template
}

func New(site string, funcs template.FuncMap) *Renderer {
	return &Renderer{Site: site, Funcs: funcs}
}

func (r *Renderer) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r *Renderer) load() error {
	r.once.Do(func() {
		funcs := template.FuncMap{
			// overridden by Funcs
			"urlsign": func(path string) string { return path },
		}
		for k, v := range r.Funcs {
			funcs[k] = v
		}
		r.pages = map[string]*template.Template{}
		r.frags = map[string]*template.Template{}
		for _, name := range pages {
			t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
			if err != nil {
				r.err = fmt.Errorf("parse template %s: %w", name, err)
				return
			}
			r.pages[name] = t
		}
		for _, name := range fragments {
			t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
			if err != nil {
				r.err = fmt.Errorf("parse template %s: %w", name, err)
				return
			}
			r.frags[name] = t
		}
	})
	return r.err
}

// Check parses every template once so broken markup fails at startup.
func (r *Renderer) Check() error {
	return r.load()
}

// Page renders a full page. Pending flash messages are consumed.
func (r *Renderer) Page(w http.ResponseWriter, req *http.Request, status int, name, title string, data any) {
	if err := r.load(); err != nil {
		r.fail(w, err)
		return
	}
	t, ok := r.pages[name]
	if !ok {
		r.fail(w, fmt.Errorf("unknown page template %q", name))
		return
	}
	id := auth.FromContext(req.Context())
	page := Page{
		Site:     r.Site,
		Title:    title,
		User:     id.User,
		Level:    id.Level,
		Messages: auth.PopMessages(w, req),
		Data:     data,
	}
	if r.Nav != nil {
		page.Nav = r.Nav()
	}
	r.write(w, status, t, "base", page)
}

// Fragment renders an embeddable block without the layout.
func (r *Renderer) Fragment(w http.ResponseWriter, status int, name string, data any) {
	if err := r.load(); err != nil {
		r.fail(w, err)
		return
	}
	t, ok := r.frags[name]
	if !ok {
		r.fail(w, fmt.Errorf("unknown fragment template %q", name))
		return
	}
	r.write(w, status, t, "fragment", data)
}

// Error renders the error page with the status text as heading.
func (r *Renderer) Error(w http.ResponseWriter, req *http.Request, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	r.Page(w, req, status, "error", http.StatusText(status), struct {
		Status  string
		Message string
	}{http.StatusText(status), message})
}

// Execute writes a named fragment to out; used by tests and the CLI.
func (r *Renderer) Execute(out io.Writer, name string, data any) error {
	if err := r.load(); err != nil {
		return err
	}
	t, ok := r.frags[name]
	if !ok {
		return fmt.Errorf("unknown fragment template %q", name)
	}
	return t.ExecuteTemplate(out, "fragment", data)
}

func (r *Renderer) write(w http.ResponseWriter, status int, t *template.Template, entry string, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, entry, data); err != nil {
		r.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (r *Renderer) fail(w http.ResponseWriter, err error) {
	r.logger().Printf("render: %v", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
