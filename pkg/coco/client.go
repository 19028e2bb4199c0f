package coco

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

const (
	DefaultBaseURL       = "https://marketplace-api.conversationalcomponents.com/api"
	maxResponseSizeBytes = 2 << 20
	maxErrorBodyBytes    = 512
	tracerName           = "chative-coco/coco"
)

type Config struct {
	BaseURL  string        `envconfig:"BASE_URL" split_words:"true" default:"https://marketplace-api.conversationalcomponents.com/api"`
	APIKey   string        `envconfig:"API_KEY" split_words:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	Language string        `envconfig:"LANGUAGE" split_words:"true"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Client talks to the Conversational Components marketplace exchange API.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ contractx.ComponentClient = (*Client)(nil)

// exchangeResponse mirrors the marketplace wire format.
type exchangeResponse struct {
	Response        string         `json:"response"`
	Responses       []responseItem `json:"responses,omitempty"`
	UpdatedContext  map[string]any `json:"updated_context,omitempty"`
	ComponentDone   *bool          `json:"component_done,omitempty"`
	ComponentFailed bool           `json:"component_failed,omitempty"`
	OutOfContext    bool           `json:"out_of_context,omitempty"`
	Confidence      float64        `json:"confidence,omitempty"`
	IDontKnow       bool           `json:"idontknow,omitempty"`

	// short form used by lightweight components
	Reply    string         `json:"reply,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Continue *bool          `json:"continue,omitempty"`
}

type responseItem struct {
	Text string `json:"text"`
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid coco base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		language:   strings.TrimSpace(cfg.Language),
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Exchange sends one user turn to a component. It never retries; every
// failure is reported as contract.ErrComponentCall.
func (c *Client) Exchange(ctx context.Context, req contractx.ComponentRequest) (contractx.ComponentResponse, error) {
	componentID := strings.TrimSpace(req.ComponentID)
	if componentID == "" {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: component id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}

	ctx, span := c.tracer.Start(ctx, "coco.exchange", trace.WithAttributes(
		attribute.String("coco.component_id", componentID),
		attribute.String("coco.session_id", req.SessionID),
		attribute.Int("coco.context_keys", len(req.Context)),
	))
	defer span.End()

	resp, err := c.exchange(ctx, componentID, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return contractx.ComponentResponse{}, err
	}
	span.SetAttributes(
		attribute.Bool("coco.component_done", !resp.Continue),
		attribute.Bool("coco.component_failed", resp.Failed),
		attribute.Bool("coco.out_of_context", resp.OutOfContext),
	)
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, componentID string, req contractx.ComponentRequest, span trace.Span) (contractx.ComponentResponse, error) {
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	if req.Language == "" {
		req.Language = c.language
	}
	req.Flatten = true

	body, err := json.Marshal(req)
	if err != nil {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: marshal request: %v", contractx.ErrComponentCall, err)
	}

	endpoint := c.baseURL + "/exchange/" + url.PathEscape(componentID) + "/" + url.PathEscape(req.SessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: build request: %v", contractx.ErrComponentCall, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		httpReq.Header.Set("api-key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: %s: %v", contractx.ErrComponentCall, componentID, err)
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSizeBytes))
	if err != nil {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: read response: %v", contractx.ErrComponentCall, err)
	}

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: %s http status=%d body=%s",
			contractx.ErrComponentCall, componentID, httpResp.StatusCode, truncate(raw, maxErrorBodyBytes))
	}

	var parsed exchangeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return contractx.ComponentResponse{}, fmt.Errorf("%w: decode response: %v", contractx.ErrComponentCall, err)
	}
	return parsed.toContract(), nil
}

func (r exchangeResponse) toContract() contractx.ComponentResponse {
	out := contractx.ComponentResponse{
		Reply:          strings.TrimSpace(r.Response),
		UpdatedContext: r.UpdatedContext,
		Failed:         r.ComponentFailed,
		OutOfContext:   r.OutOfContext,
		IDontKnow:      r.IDontKnow,
		Confidence:     r.Confidence,
	}
	for _, item := range r.Responses {
		if text := strings.TrimSpace(item.Text); text != "" {
			out.Replies = append(out.Replies, text)
		}
	}
	if out.Reply == "" {
		out.Reply = strings.TrimSpace(r.Reply)
	}
	if out.Reply == "" && len(out.Replies) > 0 {
		out.Reply = strings.Join(out.Replies, "\n")
	}
	if len(r.Context) > 0 {
		merged := make(map[string]any, len(r.Context)+len(r.UpdatedContext))
		for k, v := range r.Context {
			merged[k] = v
		}
		for k, v := range r.UpdatedContext {
			merged[k] = v
		}
		out.UpdatedContext = merged
	}

	// absent flags mean the component did not ask to keep the conversation
	switch {
	case r.ComponentFailed:
		out.Continue = false
	case r.Continue != nil:
		out.Continue = *r.Continue
	case r.ComponentDone != nil:
		out.Continue = !*r.ComponentDone
	}
	return out
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}

// IsCallError reports whether err is a remote component failure.
func IsCallError(err error) bool {
	return errors.Is(err, contractx.ErrComponentCall)
}
