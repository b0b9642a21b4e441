package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// doRequest signs and sends one call. BingX signs the sorted query string,
// signature appended as the last parameter; the API key travels in a header.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := sortedQuery(params)
	signature := sign(c.secret, query)
	urlStr := c.baseURL + path + "?" + query + "&signature=" + signature

	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-BX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if code, msg, ok := extractCode(out); ok && code != 0 {
		return fmt.Errorf("bingx error: %s (code=%d)", msg, code)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	return nil
}

// sortedQuery renders params as k=v&k=v in key order, the form BingX
// expects under the signature. url.Values.Encode would escape values the
// signer must see raw.
func sortedQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	return strings.Join(parts, "&")
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func extractCode(v any) (int, string, bool) {
	type coded interface {
		code() (int, string)
	}
	if c, ok := v.(coded); ok {
		code, msg := c.code()
		return code, msg, true
	}
	return 0, "", false
}

func (r *bingxResponse[T]) code() (int, string) {
	return r.Code, r.Msg
}
