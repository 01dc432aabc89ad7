package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stopguard/internal/exit"
	"stopguard/internal/market"
	"stopguard/internal/metrics"
	"stopguard/internal/pkg/circuit"
	"stopguard/internal/pkg/text"

	"github.com/tidwall/gjson"
)

const (
	defaultTimeout   = 15 * time.Second
	maxErrorBody     = 4096
	maxResponseBody  = 4 << 20
	defaultThreshold = 5
	maxLoggedBody    = 200
)

type Config struct {
	APIURL             string
	APIToken           string
	Timeout            time.Duration
	InsecureSkipVerify bool
	CircuitThreshold   int
	CircuitCooldown    time.Duration
}

// Client 调用 MT5 bridge 的 REST 接口：读持仓、改止损、部分平仓、拉 K 线。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	breaker    *circuit.Breaker
}

var errNotFound = errors.New("bridge resource not found")

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 broker.api_url 失败: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("broker.api_url 缺少 scheme 或 host: %s", raw)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	threshold := cfg.CircuitThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	breaker := circuit.New("bridge", threshold, cfg.CircuitCooldown)
	breaker.OnStateChange(func(name string, _, to circuit.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	})
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		token:      strings.TrimSpace(cfg.APIToken),
		breaker:    breaker,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

func (c *Client) GetPosition(ctx context.Context, ticket int64) (*exit.PositionSnapshot, error) {
	body, err := c.call(ctx, http.MethodGet, positionPath(ticket, ""), nil)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: ticket %d", exit.ErrPositionNotFound, ticket)
	}
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if pos := root.Get("position"); pos.Exists() {
		if pos.Type == gjson.Null {
			return nil, nil
		}
		root = pos
	}
	snap := &exit.PositionSnapshot{
		Ticket:     root.Get("ticket").Int(),
		Symbol:     root.Get("symbol").String(),
		Price:      firstFloat(root, "price", "price_current", "current_price"),
		Volume:     root.Get("volume").Float(),
		StopLoss:   firstFloat(root, "sl", "stop_loss"),
		TakeProfit: firstFloat(root, "tp", "take_profit"),
	}
	if snap.Ticket == 0 {
		snap.Ticket = ticket
	}
	if snap.Ticket != ticket {
		return nil, fmt.Errorf("%w: bridge returned ticket %d for %d", exit.ErrBrokerUnavailable, snap.Ticket, ticket)
	}
	return snap, nil
}

func (c *Client) ModifyStopLoss(ctx context.Context, ticket int64, newSL float64) (exit.OrderResult, error) {
	return c.order(ctx, positionPath(ticket, "modify"), map[string]any{"sl": newSL})
}

func (c *Client) ClosePartial(ctx context.Context, ticket int64, volume float64) (exit.OrderResult, error) {
	return c.order(ctx, positionPath(ticket, "close"), map[string]any{"volume": volume})
}

// order 返回 broker 的 ok/reason；404 视为持仓已不存在，由调用方归类为终止。
func (c *Client) order(ctx context.Context, path string, payload any) (exit.OrderResult, error) {
	body, err := c.call(ctx, http.MethodPost, path, payload)
	if errors.Is(err, errNotFound) {
		return exit.OrderResult{OK: false, Reason: "position not found"}, nil
	}
	if err != nil {
		return exit.OrderResult{}, err
	}
	res := gjson.ParseBytes(body)
	ok := res.Get("ok")
	if !ok.Exists() {
		return exit.OrderResult{}, fmt.Errorf("bridge 响应缺少 ok 字段: %s", text.Truncate(string(body), maxLoggedBody))
	}
	return exit.OrderResult{OK: ok.Bool(), Reason: res.Get("reason").String()}, nil
}

func (c *Client) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", tf.Name)
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.call(ctx, http.MethodGet, "/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge candles %s %s: %w", symbol, tf.Name, err)
	}
	items := gjson.GetBytes(body, "candles")
	if !items.IsArray() {
		return nil, fmt.Errorf("bridge candles 响应缺少 candles 数组")
	}
	out := make([]market.Candle, 0, len(items.Array()))
	items.ForEach(func(_, item gjson.Result) bool {
		open := item.Get("open_time").Int()
		if open == 0 {
			// bridge 旧版本用秒级 time 字段
			open = item.Get("time").Int() * 1000
		}
		out = append(out, market.Candle{
			OpenTime:  open,
			CloseTime: open + tf.Duration.Milliseconds() - 1,
			Open:      item.Get("open").Float(),
			High:      item.Get("high").Float(),
			Low:       item.Get("low").Float(),
			Close:     item.Get("close").Float(),
			Volume:    item.Get("volume").Float(),
		})
		return true
	})
	return market.DropUnclosed(out, tf.Duration), nil
}

// call 经过熔断器执行请求。404 不计入熔断失败。
func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	err := c.breaker.Do(func() error {
		var err error
		body, err = c.doRequest(ctx, method, path, payload)
		return err
	}, func(err error) bool {
		return !errors.Is(err, errNotFound) && !errors.Is(err, context.Canceled)
	})
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%w: %v", exit.ErrBrokerUnavailable, err)
	}
	return body, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("bridge client 未初始化")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 bridge 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(data) == 0 {
			return nil, fmt.Errorf("bridge 返回错误: %s", resp.Status)
		}
		return nil, fmt.Errorf("bridge 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("读取 bridge 响应失败: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("bridge 响应不是合法 JSON: %s", text.Truncate(string(data), maxLoggedBody))
	}
	return data, nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("bridge API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}

func positionPath(ticket int64, action string) string {
	p := "/positions/" + strconv.FormatInt(ticket, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func firstFloat(res gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := res.Get(k); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
