package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxBodyBytes caps provider response bodies. Provider payloads are tiny;
// anything larger is garbage.
const maxBodyBytes = 1 << 20

// estimateTimeout bounds one estimate call, fallback attempts included.
// Quote fan-outs wait on the slowest provider, so a dead one must not
// hold the whole quote for the full client timeout.
var estimateTimeout = 12 * time.Second

// getJSON performs a GET and returns the status code and raw body.
func getJSON(ctx context.Context, client *http.Client, rawURL string, q url.Values, headers map[string]string) (int, []byte, error) {
	if len(q) > 0 {
		rawURL = rawURL + "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

// postJSON performs a POST with a JSON body and returns the status code
// and raw body.
func postJSON(ctx context.Context, client *http.Client, rawURL string, body interface{}, headers map[string]string) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// formatAmount renders an amount the way providers expect: plain decimal,
// no exponent.
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
