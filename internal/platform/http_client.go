package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
)

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient speaks the Graph-style metrics API over HTTP. All calls are
// process-serialized through the pacer.
type HTTPClient struct {
	baseURL string
	doer    HTTPDoer
	pacer   *Pacer

	defaultRetryAfter time.Duration
}

// NewHTTPClient builds the production client from config.
func NewHTTPClient(cfg config.Config) *HTTPClient {
	return &HTTPClient{
		baseURL:           cfg.PlatformBaseURL,
		doer:              &http.Client{Timeout: cfg.PlatformTimeout},
		pacer:             NewPacer(cfg.MinCallInterval),
		defaultRetryAfter: cfg.DefaultRetryAfter,
	}
}

// NewHTTPClientWith builds a client with an injected transport, for tests.
func NewHTTPClientWith(baseURL string, doer HTTPDoer, pacer *Pacer) *HTTPClient {
	return &HTTPClient{
		baseURL:           baseURL,
		doer:              doer,
		pacer:             pacer,
		defaultRetryAfter: time.Hour,
	}
}

func (c *HTTPClient) GetAccountInfo(ctx context.Context, accessSecret string) (*AccountInfo, error) {
	var info AccountInfo
	err := c.doGet(ctx, "/me", url.Values{
		"fields":       {"id,username,followers_count,media_count"},
		"access_token": {accessSecret},
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) GetRecentMediaWithInsights(ctx context.Context, accessSecret string, days int) ([]Media, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	var page struct {
		Data []struct {
			ID            string    `json:"id"`
			MediaType     string    `json:"media_type"`
			Timestamp     time.Time `json:"timestamp"`
			LikeCount     float64   `json:"like_count"`
			CommentsCount float64   `json:"comments_count"`
		} `json:"data"`
	}
	err := c.doGet(ctx, "/me/media", url.Values{
		"fields":       {"id,media_type,timestamp,like_count,comments_count"},
		"since":        {strconv.FormatInt(since.Unix(), 10)},
		"access_token": {accessSecret},
	}, &page)
	if err != nil {
		return nil, err
	}
	media := make([]Media, 0, len(page.Data))
	for _, m := range page.Data {
		media = append(media, Media{
			MediaID:   m.ID,
			MediaType: m.MediaType,
			Timestamp: m.Timestamp,
			Insights: map[string]float64{
				"likes":    m.LikeCount,
				"comments": m.CommentsCount,
			},
		})
	}
	return media, nil
}

func (c *HTTPClient) GetAccountInsights(ctx context.Context, accountID, accessSecret, period string) (map[string]float64, error) {
	apiPeriod := period
	if period == models.PeriodDays28 {
		apiPeriod = "days_28"
	}
	var page struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value float64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	err := c.doGet(ctx, "/"+accountID+"/insights", url.Values{
		"metric":       {"reach,impressions,profile_views,shares,saves"},
		"period":       {apiPeriod},
		"access_token": {accessSecret},
	}, &page)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(page.Data))
	for _, series := range page.Data {
		if len(series.Values) == 0 {
			continue
		}
		name := series.Name
		if name == "profile_views" {
			name = "profileViews"
		}
		out[name] = series.Values[len(series.Values)-1].Value
	}
	return out, nil
}

// GetComprehensiveMetrics composes account info, account insights, and recent
// media engagement into the measurement set a fetch persists.
func (c *HTTPClient) GetComprehensiveMetrics(ctx context.Context, accessSecret, accountID string) (*AccountMetrics, error) {
	info, err := c.GetAccountInfo(ctx, accessSecret)
	if err != nil {
		return nil, err
	}
	insights, err := c.GetAccountInsights(ctx, accountID, accessSecret, models.PeriodDay)
	if err != nil {
		return nil, err
	}
	media, err := c.GetRecentMediaWithInsights(ctx, accessSecret, 28)
	if err != nil {
		return nil, err
	}

	measurements := map[string]float64{
		"followers":  float64(info.FollowersCount),
		"mediaCount": float64(info.MediaCount),
	}
	for k, v := range insights {
		measurements[k] = v
	}
	var likes, comments float64
	for _, m := range media {
		likes += m.Insights["likes"]
		comments += m.Insights["comments"]
	}
	measurements["likes"] = likes
	measurements["comments"] = comments
	if reach := measurements["reach"]; reach > 0 {
		measurements["engagementRate"] = (likes + comments) / reach * 100
	}
	return &AccountMetrics{AccountID: info.AccountID, Measurements: measurements}, nil
}

func (c *HTTPClient) RefreshAccessToken(ctx context.Context, refreshSecret string) (*RefreshedToken, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := c.doGet(ctx, "/refresh_access_token", url.Values{
		"grant_type":   {"refresh_token"},
		"access_token": {refreshSecret},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &RefreshedToken{
		AccessSecret: resp.AccessToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (c *HTTPClient) doGet(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return &APIError{Code: CodeTransport, Message: err.Error()}
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return &APIError{Code: CodeTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Code: CodeTransport, Message: err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return c.parseAPIError(resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Code: CodeAPI, Message: fmt.Sprintf("decode response: %v", err), StatusCode: resp.StatusCode}
	}
	return nil
}

// Graph-style error codes signalling throttling and expired credentials.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

func (c *HTTPClient) parseAPIError(resp *http.Response, body []byte) *APIError {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &wrapper)

	apiErr := &APIError{
		Code:       CodeAPI,
		Message:    wrapper.Error.Message,
		StatusCode: resp.StatusCode,
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || rateLimitCodes[wrapper.Error.Code]:
		apiErr.Code = CodeRateLimit
		apiErr.IsRateLimit = true
		apiErr.RetryAfterSeconds = retryAfterSeconds(resp, int(c.defaultRetryAfter.Seconds()))
	case resp.StatusCode == http.StatusUnauthorized || wrapper.Error.Code == 190:
		apiErr.Code = CodeAuth
	case resp.StatusCode >= 500:
		apiErr.Code = CodeTransport
	}
	return apiErr
}

func retryAfterSeconds(resp *http.Response, def int) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if def <= 0 {
		return DefaultRetryAfterSeconds
	}
	return def
}
