package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"
)

const defaultWeChatAPIBase = "https://api.weixin.qq.com"

// WeChat sends template messages through the WeChat official-account API.
// The destination is the recipient's openid. Access tokens are fetched
// lazily and cached until shortly before they expire.
type WeChat struct {
	client     *Client
	appID      string
	appSecret  string
	templateID string

	// APIBase is overridable for tests; defaults to the public endpoint.
	APIBase string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewWeChat(client *Client, appID, appSecret, templateID string) *WeChat {
	return &WeChat{
		client:     client,
		appID:      appID,
		appSecret:  appSecret,
		templateID: templateID,
		APIBase:    defaultWeChatAPIBase,
	}
}

type wechatTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type wechatSendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (w *WeChat) Deliver(ctx context.Context, destination, content string) error {
	token, err := w.token(ctx)
	if err != nil {
		return fmt.Errorf("wechat: %w", err)
	}

	payload := map[string]interface{}{
		"touser":      destination,
		"template_id": w.templateID,
		"data": map[string]interface{}{
			"content": map[string]string{"value": content},
		},
	}

	sendURL := fmt.Sprintf("%s/cgi-bin/message/template/send?access_token=%s", w.APIBase, url.QueryEscape(token))
	body, err := w.client.postJSON(ctx, sendURL, payload)
	if err != nil {
		return fmt.Errorf("wechat: %w", err)
	}

	var resp wechatSendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("wechat: decode response: %w", err)
	}
	if resp.ErrCode != 0 {
		// Token may have been revoked server-side; drop the cache so the
		// next attempt fetches a fresh one.
		if resp.ErrCode == 40001 || resp.ErrCode == 42001 {
			w.invalidateToken()
		}
		return fmt.Errorf("wechat: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

func (w *WeChat) token(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.accessToken != "" && time.Now().Before(w.tokenExpiry) {
		return w.accessToken, nil
	}

	tokenURL := fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		w.APIBase, url.QueryEscape(w.appID), url.QueryEscape(w.appSecret))

	var resp wechatTokenResponse
	if err := w.client.getJSON(ctx, tokenURL, &resp); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if resp.ErrCode != 0 || resp.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}

	w.accessToken = resp.AccessToken
	// Renew a minute early to dodge expiry races.
	w.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return w.accessToken, nil
}

func (w *WeChat) invalidateToken() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accessToken = ""
	w.tokenExpiry = time.Time{}
}
