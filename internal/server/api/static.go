package api

import (
	"bytes"
	"net/http"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

// renderMarkdown converts AI_SUMMARY/PR-body Markdown to HTML, the same
// goldmark pipeline the notifier uses for the summary email.
func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// newStaticHandler serves the bundled dashboard's static files from dir.
// http.FileServer already refuses "../" segments once the request path is
// cleaned, but it is cleaned here first too, as a belt-and-suspenders check.
func newStaticHandler(dir string) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned := path.Clean(r.URL.Path)
		if cleaned != r.URL.Path {
			http.Redirect(w, r, cleaned, http.StatusMovedPermanently)
			return
		}
		if strings.Contains(cleaned, "..") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// sanitizeSummaryHTML walks goldmark-rendered HTML (the fixer's AI_SUMMARY
// markdown, converted by renderMarkdown) and drops any
// <script>/<style> element or "on*" event-handler attribute before the
// dashboard serves it inline.
func sanitizeSummaryHTML(rendered string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return "", err
	}

	var strip func(*html.Node)
	strip = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style") {
				n.RemoveChild(c)
				c = next
				continue
			}
			if c.Type == html.ElementNode {
				c.Attr = stripEventAttrs(c.Attr)
			}
			strip(c)
			c = next
		}
	}
	strip(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return extractBody(buf.String()), nil
}

func stripEventAttrs(attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if strings.HasPrefix(strings.ToLower(a.Key), "on") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// extractBody trims the <html><head></head><body>...</body></html>
// wrapper html.Parse/html.Render add around a fragment, since the
// dashboard embeds this snippet inside its own page shell.
func extractBody(full string) string {
	const openTag = "<body>"
	const closeTag = "</body>"
	start := strings.Index(full, openTag)
	if start < 0 {
		return full
	}
	start += len(openTag)
	end := strings.LastIndex(full, closeTag)
	if end < 0 || end < start {
		return full[start:]
	}
	return full[start:end]
}
