// Package imagegen はGemini APIによる画像生成クライアントを提供する。
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/covercraft/internal/metrics"
)

const (
	// DefaultBaseURL はGemini APIのベースURL。
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel は画像生成に対応したモデル。
	DefaultModel = "gemini-2.0-flash-preview-image-generation"
	// defaultTimeout は生成1回あたりのタイムアウト。
	defaultTimeout = 60 * time.Second
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 32 << 20
)

// ErrNoImage はレスポンスに画像が含まれていないことを表す。
var ErrNoImage = errors.New("no image data in response")

// Image は生成された画像。
type Image struct {
	Data     []byte
	MimeType string
}

// Generator は画像生成のインターフェース。
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// Config はGeminiClientの設定。
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient はGemini generateContent APIのクライアント。再試行は行わない。
type GeminiClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
}

// NewGeminiClient はGeminiClientの新しいインスタンスを生成する。
func NewGeminiClient(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

// Generate はpromptから画像を1枚生成する。最初に見つかった画像パートを返す。
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (*Image, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGatewayLatency("gemini_generate", time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("gemini request failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		c.logger.Error("gemini returned error status",
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", msg),
		)
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, msg)
	}

	return c.extractImage(raw)
}

// extractImage はレスポンスから最初の画像パートを取り出す。テキストパートはログに記録する。
func (c *GeminiClient) extractImage(raw []byte) (*Image, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("invalid JSON response")
	}

	candidates := gjson.GetBytes(raw, "candidates")
	if !candidates.IsArray() || len(candidates.Array()) == 0 {
		return nil, errors.New("no candidates returned")
	}

	parts := candidates.Get("0.content.parts")
	if !parts.IsArray() {
		return nil, errors.New("no content parts returned")
	}

	var img *Image
	var decodeErr error
	parts.ForEach(func(_, p gjson.Result) bool {
		if text := p.Get("text"); text.Exists() {
			c.logger.Info("gemini response text", slog.String("text", text.String()))
			return true
		}
		data := p.Get("inlineData.data")
		if !data.Exists() || data.String() == "" {
			return true
		}
		decoded, err := base64.StdEncoding.DecodeString(data.String())
		if err != nil {
			decodeErr = fmt.Errorf("failed to decode image data: %w", err)
			return false
		}
		mime := p.Get("inlineData.mimeType").String()
		if mime == "" {
			mime = "image/png"
		}
		img = &Image{Data: decoded, MimeType: mime}
		return false
	})

	if decodeErr != nil {
		return nil, decodeErr
	}
	if img == nil {
		return nil, ErrNoImage
	}
	return img, nil
}

// compile-time interface check
var _ Generator = (*GeminiClient)(nil)
