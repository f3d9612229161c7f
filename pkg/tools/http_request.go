package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultHTTPTimeout      = 30 * time.Second
	defaultMaxResponseBytes = 100 * 1024
	maxRedirects            = 5
	httpUserAgent           = "chatagent/1.0 (+https://github.com/chatagent)"
)

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodHead,
}

// HTTPRequestTool performs an HTTP request and returns status, type and body.
type HTTPRequestTool struct {
	httpClient   *http.Client
	maxBodyBytes int64
}

// NewHTTPRequestTool creates an http_request tool from env.
func NewHTTPRequestTool(env Env) *HTTPRequestTool {
	timeout := env.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxBody := env.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	client := env.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &HTTPRequestTool{httpClient: client, maxBodyBytes: maxBody}
}

func (t *HTTPRequestTool) Name() string {
	return ToolHTTPRequest
}

func (t *HTTPRequestTool) Definition() ToolDefinition {
	return httpRequestDefinition()
}

func httpRequestDefinition() ToolDefinition {
	return ToolDefinition{
		Name: ToolHTTPRequest,
		Description: `Make an HTTP request to an external API or web page. Returns the status code, content type and body.
HTML pages are reduced to their readable text. Bodies are capped in size.`,
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"method": {
					Type:        "string",
					Description: "HTTP method. Defaults to GET.",
					Enum:        allowedMethods,
				},
				"url": {
					Type:        "string",
					Description: "Full http:// or https:// URL",
				},
				"headers": {
					Type:        "object",
					Description: "Optional request headers as a string map",
				},
				"body": {
					Type:        "string",
					Description: "Optional request body",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *HTTPRequestTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	urlStr, ok := stringArg(args, "url")
	if !ok {
		return nil, fmt.Errorf("url is required and must be a string")
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return errorResult("URL must start with http:// or https://")
	}

	method := http.MethodGet
	if m, ok := stringArg(args, "method"); ok {
		method = strings.ToUpper(m)
	}
	if !isAllowedMethod(method) {
		return errorResult(fmt.Sprintf("unsupported method: %s", method))
	}

	var body io.Reader = http.NoBody
	if b, ok := stringArg(args, "body"); ok {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return errorResult("failed to create request: " + err.Error())
	}
	req.Header.Set("User-Agent", httpUserAgent)
	req.Header.Set("Accept", "application/json, application/geo+json, text/html;q=0.9, text/plain;q=0.8, */*;q=0.5")
	if hdrs, ok := args["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errorResult("request failed: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	// Read one byte past the cap to detect truncation.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return errorResult("failed to read response: " + err.Error())
	}
	truncated := int64(len(raw)) > t.maxBodyBytes
	if truncated {
		raw = raw[:t.maxBodyBytes]
	}

	contentType := resp.Header.Get("Content-Type")
	payload := map[string]any{
		"success":      resp.StatusCode < http.StatusBadRequest,
		"url":          urlStr,
		"method":       method,
		"status":       resp.StatusCode,
		"status_text":  http.StatusText(resp.StatusCode),
		"content_type": contentType,
		"truncated":    truncated,
	}

	if isHTML(contentType) {
		title, text, err := htmlToText(raw)
		if err != nil {
			return errorResult("failed to parse HTML: " + err.Error())
		}
		payload["title"] = title
		payload["body"] = text
	} else {
		payload["body"] = string(raw)
	}

	return jsonResult(payload)
}

func isAllowedMethod(method string) bool {
	for _, m := range allowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// htmlToText returns the page title and readable body text.
func htmlToText(raw []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	doc.Find("script, style, noscript, template").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())

	// Block elements get a trailing newline so paragraphs don't run together.
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, br, hr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if trimmed := strings.Join(strings.Fields(line), " "); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return title, strings.Join(lines, "\n"), nil
}
