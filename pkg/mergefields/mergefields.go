// Package mergefields renders recipient merge fields in email subjects and
// bodies. Placeholders are written as {{field_name}}, case-insensitive and
// tolerant of whitespace inside the braces; rendering is delegated to the
// liquid engine so templates may also use standard liquid constructs.
package mergefields

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// Fields holds the merge-field bindings for one recipient.
type Fields map[string]interface{}

var engine = liquid.NewEngine()

// placeholderRe matches {{ Field_Name }} with optional inner whitespace.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// normalize lowercases placeholder names and strips inner whitespace so that
// {{ First_Name }} and {{first_name}} resolve to the same binding.
func normalize(template string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return "{{" + strings.ToLower(name) + "}}"
	})
}

// Render substitutes merge fields into the template. Unknown placeholders
// render as empty strings.
func Render(template string, fields Fields) (string, error) {
	bindings := make(liquid.Bindings, len(fields))
	for k, v := range fields {
		bindings[strings.ToLower(k)] = v
	}
	out, err := engine.ParseAndRenderString(normalize(template), bindings)
	if err != nil {
		return "", fmt.Errorf("failed to render merge fields: %w", err)
	}
	return out, nil
}

// RatingURLs returns the rating_url_1..5 bindings pointing at the star-rating
// endpoint.
func RatingURLs(baseURL, scheduledEmailID, accountID string) Fields {
	fields := make(Fields, 5)
	for rating := 1; rating <= 5; rating++ {
		fields[fmt.Sprintf("rating_url_%d", rating)] = fmt.Sprintf(
			"%s?id=%s&rating=%d&account=%s",
			baseURL, url.QueryEscape(scheduledEmailID), rating, url.QueryEscape(accountID),
		)
	}
	return fields
}

// Merge combines field maps; later maps win on key collisions.
func Merge(maps ...Fields) Fields {
	out := make(Fields)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
