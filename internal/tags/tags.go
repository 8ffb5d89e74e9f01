// Package tags renders custom-field default-value templates.
//
// A template may reference subscriber data with MailWizz-style `[TAG]` or
// curly `{TAG}` placeholders.  Tag names are upper-case letters, digits,
// and underscores.  Rendering never fails: unknown tags render empty and
// text that merely looks like a bracket stays put when it is not a tag.
//
// Built-in tags, on top of the variables the caller passes:
//
//	DATE      current date, 2006-01-02
//	DATETIME  current date and time, 2006-01-02 15:04:05
package tags

import (
	"regexp"
	"strings"
	"time"
)

var tagRe = regexp.MustCompile(`\[([A-Z][A-Z0-9_]*)\]|\{([A-Z][A-Z0-9_]*)\}`)

// Renderer expands placeholders.  The zero value uses time.Now.
type Renderer struct {
	Now func() time.Time
}

// Render returns tpl with every placeholder replaced by its value in vars.
// A nil vars map renders with no subscriber context.
func (r Renderer) Render(tpl string, vars map[string]string) string {
	if !strings.ContainsAny(tpl, "[{") {
		return tpl
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return tagRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "DATE":
			return now().Format("2006-01-02")
		case "DATETIME":
			return now().Format("2006-01-02 15:04:05")
		}
		return vars[name]
	})
}
