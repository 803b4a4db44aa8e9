package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BybitBaseURL    = "https://api.bybit.com"
	BybitTestnetURL = "https://api-testnet.bybit.com"
	BybitWSURL      = "wss://stream.bybit.com/v5/public/linear"

	categoryLinear = "linear"

	retCodeLeverageNotModified = 110043
)

// BybitAdapter talks to the Bybit v5 REST API for linear perpetuals.
// It implements every gateway interface in domain.
type BybitAdapter struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*BybitAdapter)

func WithHTTPTimeout(d time.Duration) Option {
	return func(b *BybitAdapter) { b.client.Timeout = d }
}

func WithRecvWindow(ms int) Option {
	return func(b *BybitAdapter) { b.recvWindow = ms }
}

// WithRateLimit caps outgoing requests per second across all endpoints.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *BybitAdapter) { b.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *BybitAdapter) { b.metrics = m }
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string, logger *zap.Logger, opts ...Option) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	b := &BybitAdapter{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: 5000,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// --- REST API ---

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, b.recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

// get sends a signed GET with query parameters and returns the result payload.
func (b *BybitAdapter) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return b.sendRequest(ctx, http.MethodGet, path, query.Encode(), nil)
}

// post sends a signed POST with a JSON body and returns the result payload.
func (b *BybitAdapter) post(ctx context.Context, path string, payload map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", path, err)
	}
	return b.sendRequest(ctx, http.MethodPost, path, "", body)
}

// sendRequest signs and sends one call. Transport failures come back as
// plain wrapped errors; a non-zero retCode comes back as *domain.ExchangeError.
func (b *BybitAdapter) sendRequest(ctx context.Context, method, path, query string, body []byte) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	timestamp := b.now().UnixMilli()
	endpoint := b.baseURL + path
	paramsStr := string(body)
	if method == http.MethodGet {
		paramsStr = query
		if query != "" {
			endpoint += "?" + query
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(b.recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}

	if envelope.RetCode != 0 {
		exErr := domain.ClassifyExchangeError(envelope.RetCode, envelope.RetMsg)
		b.logger.Warn("Bybit returned non-zero retCode",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("ret_code", envelope.RetCode),
			zap.String("ret_msg", envelope.RetMsg),
			zap.String("kind", string(exErr.Kind)),
		)
		b.metrics.ExchangeError(string(exErr.Kind))
		return nil, exErr
	}

	return envelope.Result, nil
}

// --- wire helpers ---

func toExchangeSide(side domain.Side) string {
	if side == domain.SideShort {
		return "Sell"
	}
	return "Buy"
}

func fromExchangeSide(side string) (domain.Side, error) {
	switch side {
	case "Buy":
		return domain.SideLong, nil
	case "Sell":
		return domain.SideShort, nil
	}
	return "", fmt.Errorf("unknown side %q", side)
}

// parseNum reads a numeric string field. Empty means zero.
func parseNum(field, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// numParser collects the first parse failure so decoders stay linear.
type numParser struct {
	err error
}

func (p *numParser) num(field, s string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := parseNum(field, s)
	if err != nil {
		p.err = err
	}
	return v
}
