package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
)

// maxResponseBytes bounds what we read from the server; API answers are tiny.
const maxResponseBytes = 1 << 20

var ErrInvalidRequest = errors.New("webclient: request cannot be nil")

// NetHTTPClient is the net/http backed transport to the proctoring server.
type NetHTTPClient struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

func NewNetHTTPClient(cfg Config, logger logging.Logger, httpClient *http.Client) (*NetHTTPClient, error) {
	componentLogger := logger.With(logging.Field{Key: "component", Value: "webclient"})

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("webclient: base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultConfig().Timeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	componentLogger.Debug("created nethttp webclient",
		logging.Field{Key: "base_url", Value: cfg.BaseURL},
		logging.Field{Key: "timeout", Value: httpClient.Timeout.String()})

	return &NetHTTPClient{
		cfg:    cfg,
		client: httpClient,
		logger: componentLogger,
	}, nil
}

// Do executes req against the configured server. HTTP error statuses are
// returned in the Response; only transport failures produce an error.
func (nhc *NetHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}

	method := strings.ToUpper(req.Method)
	url := nhc.cfg.BaseURL + req.Path

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if nhc.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+nhc.cfg.AuthToken)
	}
	if nhc.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", nhc.cfg.UserAgent)
	}

	resp, err := nhc.client.Do(httpReq)
	if err != nil {
		nhc.logger.Debug("http request failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "path", Value: req.Path},
			logging.Err(err))
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		Request:    req,
		Body:       body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
	}, nil
}

// Post sends body as JSON.
func (nhc *NetHTTPClient) Post(ctx context.Context, path string, body any) (*interfaces.Response, error) {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		raw = b
	}
	resp, err := nhc.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: raw})
	if err != nil {
		return nil, err
	}
	return &interfaces.Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

func (nhc *NetHTTPClient) Get(ctx context.Context, path string) (*interfaces.Response, error) {
	resp, err := nhc.Do(ctx, &Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	return &interfaces.Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

func (nhc *NetHTTPClient) Close() error {
	nhc.client.CloseIdleConnections()
	return nil
}

// HTTPClient returns the underlying *http.Client
func (nhc *NetHTTPClient) HTTPClient() *http.Client {
	return nhc.client
}
