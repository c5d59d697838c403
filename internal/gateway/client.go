// Package gateway talks to the remote low-code execution engine: pixel
// commands go through runPixel, binaries through the upload endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/knowledge-portal/backend/internal/config"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
)

var (
	ErrEmptyResponse  = errors.New("gateway returned no pixel results")
	ErrNoUploadedFile = errors.New("gateway upload returned no file location")
)

const (
	runPixelPath = "/api/engine/runPixel"
	uploadPath   = "/api/uploadFile/baseUpload"
)

// Runner is the call surface the services depend on.
type Runner interface {
	Run(ctx context.Context, pixel string) (Result, error)
	Upload(ctx context.Context, name string, body io.Reader, prefix string) ([]UploadedFile, error)
}

// UploadedFile is one entry of the upload response.
type UploadedFile struct {
	FileName     string `json:"fileName"`
	FileLocation string `json:"fileLocation"`
}

type pixelReturn struct {
	PixelID         string          `json:"pixelId,omitempty"`
	PixelExpression string          `json:"pixelExpression,omitempty"`
	Output          json.RawMessage `json:"output"`
	OperationType   OperationTypes  `json:"operationType"`
}

type runResponse struct {
	InsightID   string        `json:"insightID,omitempty"`
	PixelReturn []pixelReturn `json:"pixelReturn"`
}

// Client is an HTTP implementation of Runner.
type Client struct {
	baseURL    string
	insightID  string
	authToken  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client from the gateway configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		insightID:  cfg.InsightID,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logging.OrNop(logger),
	}
}

// Run submits a single pixel and returns the first pixelReturn entry. A
// non-nil error means the call itself failed; engine-reported failures come
// back as a Result with OK unset.
func (c *Client) Run(ctx context.Context, pixel string) (Result, error) {
	if err := c.wait(ctx); err != nil {
		return Result{}, err
	}

	form := url.Values{}
	form.Set("expression", pixel)
	if c.insightID != "" {
		form.Set("insightId", c.insightID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+runPixelPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build runPixel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)

	start := time.Now()
	var payload runResponse
	if err := c.do(req, &payload); err != nil {
		c.logger.Warn("pixel call failed", zap.String("pixel", abbreviate(pixel)), zap.Error(err))
		return Result{}, err
	}
	if len(payload.PixelReturn) == 0 {
		return Result{}, ErrEmptyResponse
	}

	first := payload.PixelReturn[0]
	res := NewResult(first.Output, first.OperationType)
	c.logger.Debug("pixel call completed",
		zap.String("pixel", abbreviate(pixel)),
		zap.Strings("operationType", res.OperationType),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Upload stores a binary under the destination prefix and returns the
// engine's file records.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader, prefix string) ([]UploadedFile, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create upload part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close upload body: %w", err)
	}

	query := url.Values{}
	if c.insightID != "" {
		query.Set("insightId", c.insightID)
	}
	query.Set("path", prefix)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath+"?"+query.Encode(), buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	var files []UploadedFile
	if err := c.do(req, &files); err != nil {
		c.logger.Warn("upload failed", zap.String("file", name), zap.Error(err))
		return nil, err
	}
	if len(files) == 0 || files[0].FileLocation == "" {
		return nil, ErrNoUploadedFile
	}

	c.logger.Info("file uploaded", zap.String("file", name), zap.String("location", files[0].FileLocation))
	return files, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway rate limit: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, abbreviate(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func abbreviate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
