package recorder

import (
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// SuggestName proposes a script name from the page a recording started on:
// the readable title when there is one, otherwise the host and path.
func SuggestName(html, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		parsedURL = &url.URL{}
	}

	if strings.TrimSpace(html) != "" {
		article, err := readability.FromReader(strings.NewReader(html), parsedURL)
		if err == nil {
			if title := strings.Join(strings.Fields(article.Title), " "); title != "" {
				return title
			}
		}
	}

	name := parsedURL.Host + strings.TrimSuffix(parsedURL.Path, "/")
	if name == "" {
		return "Untitled recording"
	}
	return name
}
