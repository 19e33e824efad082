package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// client is a minimal HTTP client for the backend's JSON and audio routes.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *client {
	return &client{
		baseURL: strings.TrimRight(serverFlag, "/"),
		token:   tokenFlag,
		http:    &http.Client{Timeout: timeoutFlag},
	}
}

// do sends a request and returns the response when it is 2xx. Error bodies
// in the backend's {"error":{...}} shape are turned into a readable error.
func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return nil, apiError(resp.StatusCode, data)
}

func jsonBody(payload interface{}) (io.Reader, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(body), nil
}

func (c *client) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	resp, err := c.postJSONStream(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *client) getJSON(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func apiError(status int, body []byte) error {
	res := gjson.ParseBytes(body)
	if msg := res.Get("error.message"); msg.Exists() {
		return fmt.Errorf("backend responded %d %s: %s", status, res.Get("error.code").String(), msg.String())
	}
	if len(body) > 0 {
		return fmt.Errorf("backend responded %d: %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("backend responded %d", status)
}

// printJSON writes data to w, narrowed to path when one is given.
func printJSON(w io.Writer, data []byte, path string) error {
	if path == "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			_, err = w.Write(data)
			return err
		}
		buf.WriteByte('\n')
		_, err := w.Write(buf.Bytes())
		return err
	}

	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return fmt.Errorf("path %q not found in response", path)
	}
	if res.IsObject() || res.IsArray() {
		return printJSON(w, []byte(res.Raw), "")
	}
	_, err := fmt.Fprintln(w, res.String())
	return err
}
