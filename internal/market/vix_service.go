package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"stopguard/internal/logger"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	vixDefaultPath     = "value"
	vixDefaultTTL      = 5 * time.Minute
	vixDefaultStale    = 30 * time.Minute
	vixErrorBackoff    = 30 * time.Second
	vixDefaultTimeout  = 5 * time.Second
	vixMaxResponseSize = 1 << 20
)

type VIXConfig struct {
	Endpoint   string
	JSONPath   string
	Timeout    time.Duration
	TTL        time.Duration
	StaleAfter time.Duration
}

func (c VIXConfig) withDefaults() VIXConfig {
	out := c
	out.Endpoint = strings.TrimSpace(out.Endpoint)
	out.JSONPath = strings.TrimSpace(out.JSONPath)
	if out.JSONPath == "" {
		out.JSONPath = vixDefaultPath
	}
	if out.Timeout <= 0 {
		out.Timeout = vixDefaultTimeout
	}
	if out.TTL <= 0 {
		out.TTL = vixDefaultTTL
	}
	if out.StaleAfter < out.TTL {
		out.StaleAfter = vixDefaultStale
	}
	return out
}

type VIXData struct {
	Value      float64
	LastUpdate time.Time
	LastError  string
}

// VIXService 按 TTL 拉取并缓存 VIX；刷新失败时在 StaleAfter 内继续返回上次的值。
type VIXService struct {
	cfg    VIXConfig
	client *http.Client
	nowFn  func() time.Time

	mu         sync.RWMutex
	data       VIXData
	nextUpdate time.Time
	group      singleflight.Group
}

func NewVIXService(cfg VIXConfig) *VIXService {
	final := cfg.withDefaults()
	return &VIXService{
		cfg:    final,
		client: &http.Client{Timeout: final.Timeout},
		nowFn:  time.Now,
	}
}

func (s *VIXService) Get() (VIXData, bool) {
	if s == nil {
		return VIXData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, !s.data.LastUpdate.IsZero()
}

func (s *VIXService) VIX(ctx context.Context) (float64, error) {
	if s == nil || s.cfg.Endpoint == "" {
		return 0, fmt.Errorf("vix endpoint not configured")
	}
	now := s.nowFn()
	s.mu.RLock()
	data, next := s.data, s.nextUpdate
	s.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return s.usable(data, now)
	}

	_, err, _ := s.group.Do("vix", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		logger.Warnf("VIX 刷新失败: %v", err)
	}
	s.mu.RLock()
	data = s.data
	s.mu.RUnlock()
	return s.usable(data, s.nowFn())
}

func (s *VIXService) usable(data VIXData, now time.Time) (float64, error) {
	if data.LastUpdate.IsZero() {
		if data.LastError != "" {
			return 0, fmt.Errorf("vix unavailable: %s", data.LastError)
		}
		return 0, fmt.Errorf("vix unavailable")
	}
	if age := now.Sub(data.LastUpdate); age > s.cfg.StaleAfter {
		return 0, fmt.Errorf("vix stale: last update %s ago", age.Truncate(time.Second))
	}
	return data.Value, nil
}

func (s *VIXService) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		s.setError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.setError(err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		s.setError(err)
		return err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, vixMaxResponseSize))
	if err != nil {
		s.setError(err)
		return err
	}
	value, err := parseVIX(body, s.cfg.JSONPath)
	if err != nil {
		s.setError(err)
		return err
	}
	now := s.nowFn()
	s.mu.Lock()
	s.data = VIXData{Value: value, LastUpdate: now}
	s.nextUpdate = now.Add(s.cfg.TTL)
	s.mu.Unlock()
	return nil
}

func parseVIX(body []byte, path string) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("vix response is not valid json")
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return 0, fmt.Errorf("vix path %q not found", path)
	}
	value := res.Float()
	if !(value > 0) {
		return 0, fmt.Errorf("vix value %q is not positive", res.String())
	}
	return value, nil
}

// setError 保留上次成功的值，只记录错误并退避。
func (s *VIXService) setError(err error) {
	now := s.nowFn()
	s.mu.Lock()
	s.data.LastError = err.Error()
	s.nextUpdate = now.Add(vixErrorBackoff)
	s.mu.Unlock()
}
