package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAPICapabilityName is the default name of an OpenAPICapability.
const OpenAPICapabilityName = "openapi_tool"

const maxOpenAPIResponse = 1 << 20

var ErrNoServer = errors.New("openapi document lists no server")

type openAPIDocument struct {
	Info struct {
		Title string `yaml:"title"`
	} `yaml:"info"`
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
}

// OpenAPICapability calls the endpoints of an API described by an OpenAPI
// document, against the first server the document lists.
//
// Parameters: endpoint (required, appended to the server url), method
// (default GET), query (object of query parameters) and body (sent as
// JSON).
type OpenAPICapability struct {
	name    string
	title   string
	baseURL string
	client  *http.Client
}

type OpenAPIOption func(*OpenAPICapability)

func WithHTTPClient(c *http.Client) OpenAPIOption {
	return func(o *OpenAPICapability) { o.client = c }
}

// NewOpenAPICapability parses document, YAML or JSON. An empty name uses
// OpenAPICapabilityName.
func NewOpenAPICapability(name string, document []byte, opts ...OpenAPIOption) (*OpenAPICapability, error) {
	var doc openAPIDocument
	if err := yaml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse openapi document: %w", err)
	}
	if len(doc.Servers) == 0 || doc.Servers[0].URL == "" {
		return nil, ErrNoServer
	}
	if name == "" {
		name = OpenAPICapabilityName
	}

	o := &OpenAPICapability{
		name:    name,
		title:   doc.Info.Title,
		baseURL: strings.TrimSuffix(doc.Servers[0].URL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *OpenAPICapability) Name() string { return o.name }

func (o *OpenAPICapability) Description() string {
	title := o.title
	if title == "" {
		title = o.baseURL
	}
	return "OpenAPI Tool for " + title + " (params: endpoint, method, query, body)"
}

func (o *OpenAPICapability) Execute(ctx context.Context, params map[string]any) (any, error) {
	endpoint, _ := params["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint", ErrMissingParam)
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(o.baseURL + "/" + strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if query, ok := params["query"].(map[string]any); ok {
		q := u.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if b, ok := params["body"]; ok && b != nil {
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOpenAPIResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s returned status %d: %s", req.Method, u.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return map[string]any{"status": resp.StatusCode}, nil
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
