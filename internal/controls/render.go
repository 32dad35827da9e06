package controls

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"regexp"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

var log = logging.Logger("controls")

//go:embed templates/*.html
var templateFS embed.FS

var (
	tmpl     *template.Template
	minifier *minify.M
	once     sync.Once
	initErr  error
)

func initTemplates() error {
	once.Do(func() {
		tmpl, initErr = template.New("root").ParseFS(templateFS, "templates/*.html")

		minifier = minify.New()
		minifier.AddFunc("text/html", html.Minify)
		minifier.AddFunc("text/css", css.Minify)
		minifier.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	})
	return initErr
}

// PageData feeds the full controls page.
type PageData struct {
	Title    string
	Self     string
	Role     string
	Target   string // prefilled peer for the start button
	Theme    string
	Controls Controls
}

// Render writes the minified controls fragment.
func Render(w io.Writer, c Controls) error {
	return execute(w, "controls", c)
}

// RenderPage writes the minified full page around the controls fragment.
func RenderPage(w io.Writer, p PageData) error {
	return execute(w, "page", p)
}

func execute(w io.Writer, name string, data any) error {
	if err := initTemplates(); err != nil {
		return err
	}
	var raw bytes.Buffer
	if err := tmpl.ExecuteTemplate(&raw, name, data); err != nil {
		return err
	}
	out, err := minifier.Bytes("text/html", raw.Bytes())
	if err != nil {
		log.Warnf("minify %s: %v (using original)", name, err)
		out = raw.Bytes()
	}
	_, err = w.Write(out)
	return err
}
