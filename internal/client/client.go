// Package client 提供密钥管理服务的 Go 客户端。
package client

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

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/money"
)

// DefaultBaseURL 服务默认地址
const DefaultBaseURL = "http://localhost:8503"

const headerMasterKey = "X-Master-Key"

// APIError 服务端返回的失败响应
type APIError struct {
	StatusCode int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("kms: http %d: %s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("kms: %s (http %d): %s", e.Code, e.StatusCode, e.Msg)
}

// IsCode 判断错误是否为指定错误码的 APIError
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Option 客户端选项
type Option func(*Client)

// WithMasterKey 设置管理接口使用的主密钥
func WithMasterKey(key string) Option {
	return func(c *Client) { c.masterKey = key }
}

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client 密钥管理服务客户端，可并发使用
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
}

// New 创建客户端，baseURL 为空时使用 DefaultBaseURL
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatedKey 新建子密钥的结果
type CreatedKey struct {
	SubKey  string       `json:"sub_key"`
	Balance money.Amount `json:"balance"`
}

type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// ValidateAndDeduct 扣费，负数金额为退款
func (c *Client) ValidateAndDeduct(ctx context.Context, subKey string, amount money.Amount) (domain.DeductResult, error) {
	var out domain.DeductResult
	body := map[string]any{"sub_key": subKey, "amount": amount}
	err := c.do(ctx, http.MethodPost, "/api/validate_and_deduct", body, false, &out)
	return out, err
}

// GetBalance 查询启用中子密钥的余额
func (c *Client) GetBalance(ctx context.Context, subKey string) (money.Amount, error) {
	var out struct {
		Balance money.Amount `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "/api/get_balance", map[string]any{"sub_key": subKey}, false, &out)
	return out.Balance, err
}

// CreateKey 创建子密钥
func (c *Client) CreateKey(ctx context.Context, balance money.Amount, description string) (CreatedKey, error) {
	var out CreatedKey
	body := map[string]any{"balance": balance, "description": description}
	err := c.do(ctx, http.MethodPost, "/api/create_key", body, true, &out)
	return out, err
}

// ListKeys 列出全部子密钥，返回记录的 ID 已填充
func (c *Client) ListKeys(ctx context.Context) (map[string]domain.SubKey, error) {
	var out struct {
		Keys  map[string]domain.SubKey `json:"keys"`
		Total int                      `json:"total"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/list_keys", nil, true, &out); err != nil {
		return nil, err
	}
	keys := make(map[string]domain.SubKey, len(out.Keys))
	for id, k := range out.Keys {
		k.ID = id
		keys[id] = k
	}
	return keys, nil
}

// UpdateBalance 直接设置余额
func (c *Client) UpdateBalance(ctx context.Context, subKey string, newBalance money.Amount) error {
	body := map[string]any{"sub_key": subKey, "new_balance": newBalance}
	return c.do(ctx, http.MethodPost, "/api/update_balance", body, true, nil)
}

// DeleteKey 删除子密钥
func (c *Client) DeleteKey(ctx context.Context, subKey string) error {
	return c.do(ctx, http.MethodPost, "/api/delete_key", map[string]any{"sub_key": subKey}, true, nil)
}

// ActivateKey 启用子密钥
func (c *Client) ActivateKey(ctx context.Context, subKey string) error {
	return c.do(ctx, http.MethodPost, "/api/activate_key", map[string]any{"sub_key": subKey}, true, nil)
}

// DeactivateKey 停用子密钥
func (c *Client) DeactivateKey(ctx context.Context, subKey string) error {
	return c.do(ctx, http.MethodPost, "/api/deactivate_key", map[string]any{"sub_key": subKey}, true, nil)
}

// ListMasterKeys 返回主密钥数量，密钥本身不会返回
func (c *Client) ListMasterKeys(ctx context.Context) (int, error) {
	var out struct {
		TotalKeys int `json:"total_keys"`
	}
	err := c.do(ctx, http.MethodPost, "/api/master_keys/list", nil, true, &out)
	return out.TotalKeys, err
}

// AddMasterKey 添加主密钥
func (c *Client) AddMasterKey(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/api/master_keys/add", map[string]any{"new_master_key": key}, true, nil)
}

// RemoveMasterKey 删除主密钥
func (c *Client) RemoveMasterKey(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/api/master_keys/remove", map[string]any{"target_master_key": key}, true, nil)
}

// Health 查询服务健康状态
func (c *Client) Health(ctx context.Context) (domain.HealthStatus, error) {
	var out domain.HealthStatus
	err := c.do(ctx, http.MethodGet, "/health", nil, false, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, admin bool, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		req.Header.Set(headerMasterKey, c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error, Msg: env.Msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
