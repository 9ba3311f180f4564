package source

// feishu.go implements the bitable record source against the Feishu open
// API. Three endpoints are used:
//
//   - tenant_access_token/internal: app credentials -> short-lived tenant
//     token, cached and refreshed five minutes before expiry
//   - bitable records list: paginated via page_token/has_more
//   - drive medias batch_get_tmp_download_url + plain GET: attachment token
//     -> short-lived single-use URL -> bytes
//
// All requests share one rate limiter so record pagination and media
// downloads together stay inside the API quota.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPageSize is the records-list page size; 500 is the API maximum.
const DefaultPageSize = 500

// tokenRefreshMargin is how long before expiry the tenant token is renewed.
const tokenRefreshMargin = 5 * time.Minute

// FeishuConfig holds everything needed to reach one bitable table.
type FeishuConfig struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string // bitable app token
	TableID   string
	PageSize  int
	// RequestsPerSecond bounds outbound calls; zero disables limiting.
	RequestsPerSecond float64
	// Timeout is the per-HTTP-call timeout.
	Timeout time.Duration
}

// FeishuClient is the production SourceClient.
type FeishuClient struct {
	cfg     FeishuConfig
	client  *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewFeishuClient builds a client from config, applying defaults.
func NewFeishuClient(cfg FeishuConfig) *FeishuClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.feishu.cn"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &FeishuClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// apiEnvelope is the common Feishu response wrapper.
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// tenantToken returns a valid tenant access token, refreshing if the cached
// one is within the refresh margin of expiry.
func (c *FeishuClient) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := fmt.Sprintf(`{"app_id":%q,"app_secret":%q}`, c.cfg.AppID, c.cfg.AppSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal",
		strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request tenant token: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode tenant token response: %v", ErrUnavailable, err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("%w: tenant token rejected: code=%d msg=%s",
			ErrUnavailable, result.Code, result.Msg)
	}

	expire := result.Expire
	if expire <= 0 {
		expire = 7200
	}
	c.accessToken = result.TenantAccessToken
	c.expiresAt = time.Now().Add(time.Duration(expire)*time.Second - tokenRefreshMargin)

	return c.accessToken, nil
}

// get performs an authenticated GET and decodes the Feishu envelope.
func (c *FeishuClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: non-OK status %d", path, resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", path, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("request %s: code=%d msg=%s", path, env.Code, env.Msg)
	}

	return env.Data, nil
}

// ListAllRecords fetches every row of the configured table, following
// page_token until has_more is false. Page order is the source's fetch
// order, which downstream identity reconciliation depends on.
func (c *FeishuClient) ListAllRecords(ctx context.Context) ([]Record, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records",
		c.cfg.AppToken, c.cfg.TableID)

	var all []Record
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("page_size", fmt.Sprint(c.cfg.PageSize))
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		data, err := c.get(ctx, path, query)
		if err != nil {
			// Failure before the first page means the source as a whole is
			// unreachable; mid-pagination failures are reported the same way
			// because a partial batch must not be synced as if complete.
			return nil, fmt.Errorf("%w: list records: %v", ErrUnavailable, err)
		}

		var page struct {
			Items []struct {
				RecordID string         `json:"record_id"`
				Fields   map[string]any `json:"fields"`
			} `json:"items"`
			HasMore   bool   `json:"has_more"`
			PageToken string `json:"page_token"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%w: decode records page: %v", ErrUnavailable, err)
		}

		for _, item := range page.Items {
			all = append(all, Record{RecordID: item.RecordID, Fields: item.Fields})
		}

		if !page.HasMore || page.PageToken == "" {
			break
		}
		pageToken = page.PageToken
		slog.Debug("fetched records page", "total_so_far", len(all))
	}

	return all, nil
}

// TemporaryDownloadURL exchanges an attachment token for a short-lived
// download URL. Expired or revoked tokens fail here, per token.
func (c *FeishuClient) TemporaryDownloadURL(ctx context.Context, token string) (string, error) {
	query := url.Values{}
	query.Set("file_tokens", token)

	data, err := c.get(ctx, "/open-apis/drive/v1/medias/batch_get_tmp_download_url", query)
	if err != nil {
		return "", fmt.Errorf("get download url for token %s: %w", token, err)
	}

	var result struct {
		TmpDownloadURLs []struct {
			FileToken      string `json:"file_token"`
			TmpDownloadURL string `json:"tmp_download_url"`
		} `json:"tmp_download_urls"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode download url response: %w", err)
	}

	for _, item := range result.TmpDownloadURLs {
		if item.FileToken == token && item.TmpDownloadURL != "" {
			return item.TmpDownloadURL, nil
		}
	}
	return "", fmt.Errorf("no download url issued for token %s", token)
}

// FetchBytes downloads a temporary URL issued by TemporaryDownloadURL.
// Returns the body and the Content-Type reported by the server.
func (c *FeishuClient) FetchBytes(ctx context.Context, downloadURL string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: non-OK status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}
