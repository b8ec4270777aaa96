package images

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valyala/fasttemplate"
)

// DefaultTemplate points at a public placeholder-image service seeded by key.
const DefaultTemplate = "https://picsum.photos/seed/{key}/400/600"

// Resolver turns an opaque image key into a displayable URL.
type Resolver struct {
	template *fasttemplate.Template
}

// NewResolver compiles a URL template. The {key} tag is replaced by the
// path-escaped image key.
func NewResolver(pattern string) (*Resolver, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultTemplate
	}
	if !strings.Contains(pattern, "{key}") {
		return nil, fmt.Errorf("image url template %q has no {key} tag", pattern)
	}
	tpl, err := fasttemplate.NewTemplate(pattern, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("invalid image url template %q: %w", pattern, err)
	}
	return &Resolver{template: tpl}, nil
}

// URL returns the image URL for key, or "" for an empty key.
func (r *Resolver) URL(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return r.template.ExecuteString(map[string]interface{}{
		"key": url.PathEscape(key),
	})
}
