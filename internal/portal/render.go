package portal

import (
	"fmt"
	"html"
	"io/fs"
	"strings"
	"time"
)

// Placeholder tokens substituted into the portal pages.
const (
	TokenAP          = "<ap>"
	TokenID          = "<id>"
	TokenTime        = "<t>"
	TokenURL         = "<url>"
	TokenSSID        = "<ssid>"
	TokenNow         = "<now>"
	TokenPhoneNumber = "<phone_number>"

	missingValue = "null"
)

// landingParams maps landing page tokens to the controller query parameter
// that fills them.
var landingParams = []struct{ token, param string }{
	{TokenAP, "ap"},
	{TokenID, "id"},
	{TokenTime, "t"},
	{TokenURL, "url"},
	{TokenSSID, "ssid"},
}

// Templates is the read-only source of HTML pages.
type Templates interface {
	Read(name string) (string, error)
}

// TemplateReadError reports a page that could not be loaded.
type TemplateReadError struct {
	Name string
	Err  error
}

func (e *TemplateReadError) Error() string {
	return fmt.Sprintf("read template %s: %v", e.Name, e.Err)
}

func (e *TemplateReadError) Unwrap() error { return e.Err }

// FSTemplates reads pages from a filesystem, e.g. os.DirFS or the embedded
// defaults.
type FSTemplates struct {
	FS fs.FS
}

func (t FSTemplates) Read(name string) (string, error) {
	b, err := fs.ReadFile(t.FS, name)
	if err != nil {
		return "", &TemplateReadError{Name: name, Err: err}
	}
	return string(b), nil
}

// Render replaces every token in one pass, so substituted values are never
// scanned for further tokens. Values are HTML-escaped.
func Render(page string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for token, value := range values {
		pairs = append(pairs, token, html.EscapeString(value))
	}
	return strings.NewReplacer(pairs...).Replace(page)
}

func landingValues(query map[string]string, now time.Time) map[string]string {
	values := make(map[string]string, len(landingParams)+1)
	for _, p := range landingParams {
		v, ok := query[p.param]
		if !ok {
			v = missingValue
		}
		values[p.token] = v
	}
	values[TokenNow] = now.UTC().Format(time.RFC3339)
	return values
}
