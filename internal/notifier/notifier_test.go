package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return NewClient(5*time.Second, zerolog.Nop())
}

func TestDingTalkDeliverSuccess(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	d := NewDingTalk(testClient(), "")
	err := d.Deliver(context.Background(), srv.URL, "**deploy finished**")
	require.NoError(t, err)

	assert.Equal(t, "markdown", got["msgtype"])
	md := got["markdown"].(map[string]interface{})
	assert.Equal(t, "**deploy finished**", md["text"])
}

func TestDingTalkDeliverPlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":310000,"errmsg":"keywords not in content"}`)
	}))
	defer srv.Close()

	d := NewDingTalk(testClient(), "")
	err := d.Deliver(context.Background(), srv.URL, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "310000")
}

func TestDingTalkDeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDingTalk(testClient(), "")
	err := d.Deliver(context.Background(), srv.URL, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDingTalkSignedURL(t *testing.T) {
	d := NewDingTalk(testClient(), "SECret")
	ts := int64(1700000000000)

	signed := d.signedURL("https://oapi.dingtalk.com/robot/send?access_token=abc", ts)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "1700000000000", q.Get("timestamp"))
	assert.Equal(t, "abc", q.Get("access_token"))

	mac := hmac.New(sha256.New, []byte("SECret"))
	mac.Write([]byte(fmt.Sprintf("%d\n%s", ts, "SECret")))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, q.Get("sign"))
}

func TestDingTalkSignedRequestCarriesSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		assert.NotEmpty(t, r.URL.Query().Get("sign"))
		fmt.Fprint(w, `{"errcode":0}`)
	}))
	defer srv.Close()

	d := NewDingTalk(testClient(), "topsecret")
	require.NoError(t, d.Deliver(context.Background(), srv.URL, "hello"))
}

func TestFeishuDeliverSuccess(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"code":0,"msg":"success"}`)
	}))
	defer srv.Close()

	f := NewFeishu(testClient())
	require.NoError(t, f.Deliver(context.Background(), srv.URL, "build passed"))

	assert.Equal(t, "text", got["msg_type"])
	content := got["content"].(map[string]interface{})
	assert.Equal(t, "build passed", content["text"])
}

func TestFeishuDeliverPlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":19021,"msg":"sign match fail"}`)
	}))
	defer srv.Close()

	f := NewFeishu(testClient())
	err := f.Deliver(context.Background(), srv.URL, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "19021")
}

func TestWeChatDeliverFetchesAndCachesToken(t *testing.T) {
	var tokenFetches int64
	var sent map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/token":
			atomic.AddInt64(&tokenFetches, 1)
			assert.Equal(t, "client_credential", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "app-id", r.URL.Query().Get("appid"))
			fmt.Fprint(w, `{"access_token":"TOKEN123","expires_in":7200}`)
		case "/cgi-bin/message/template/send":
			assert.Equal(t, "TOKEN123", r.URL.Query().Get("access_token"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
			fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	wc := NewWeChat(testClient(), "app-id", "app-secret", "tpl-1")
	wc.APIBase = srv.URL

	require.NoError(t, wc.Deliver(context.Background(), "openid-42", "hello"))
	require.NoError(t, wc.Deliver(context.Background(), "openid-42", "again"))

	// Second delivery reuses the cached token.
	assert.EqualValues(t, 1, atomic.LoadInt64(&tokenFetches))
	assert.Equal(t, "openid-42", sent["touser"])
	assert.Equal(t, "tpl-1", sent["template_id"])
}

func TestWeChatExpiredTokenIsInvalidated(t *testing.T) {
	var tokenFetches int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/token":
			n := atomic.AddInt64(&tokenFetches, 1)
			fmt.Fprintf(w, `{"access_token":"TOKEN%d","expires_in":7200}`, n)
		case "/cgi-bin/message/template/send":
			if r.URL.Query().Get("access_token") == "TOKEN1" {
				fmt.Fprint(w, `{"errcode":42001,"errmsg":"access_token expired"}`)
				return
			}
			fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
		}
	}))
	defer srv.Close()

	wc := NewWeChat(testClient(), "app-id", "app-secret", "tpl-1")
	wc.APIBase = srv.URL

	// First delivery fails with an expired token and drops the cache.
	err := wc.Deliver(context.Background(), "openid-42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42001")

	// The retry fetches a fresh token and succeeds.
	require.NoError(t, wc.Deliver(context.Background(), "openid-42", "hello"))
	assert.EqualValues(t, 2, atomic.LoadInt64(&tokenFetches))
}

func TestWeChatTokenFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":40125,"errmsg":"invalid appsecret"}`)
	}))
	defer srv.Close()

	wc := NewWeChat(testClient(), "app-id", "bad-secret", "tpl-1")
	wc.APIBase = srv.URL

	err := wc.Deliver(context.Background(), "openid-42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "40125")
}
