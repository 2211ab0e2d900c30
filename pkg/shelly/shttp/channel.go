package shttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly/ratelimit"

	"github.com/go-logr/logr"
)

// <https://shelly-api-docs.shelly.cloud/gen2/General/RPCChannels#http>

const maxBodySize = 1 << 20

// Channel issues plain HTTP requests to devices on the LAN. Every returned error is
// classified as retry.TransientError or retry.TerminalError.
type Channel struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

func NewChannel(client *http.Client, limiter *ratelimit.Limiter) *Channel {
	if client == nil {
		client = http.DefaultClient
	}
	return &Channel{client: client, limiter: limiter}
}

type Response struct {
	StatusCode int
	Body       []byte
}

// URL builds http://<address>/<path>. The address is an IP, a host name, or either with a port.
func URL(address, path string) string {
	host := address
	if ip := net.ParseIP(address); ip != nil && ip.To4() == nil {
		host = "[" + address + "]"
	}
	u := url.URL{Scheme: "http", Host: host}
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u.Path = "/" + path[:i]
		u.RawQuery = path[i+1:]
	} else {
		u.Path = "/" + path
	}
	return u.String()
}

// Do sends one request and reads the (bounded) response body. It fails only on transport
// errors; HTTP statuses are left to the caller, see CheckStatus.
func (ch *Channel) Do(ctx context.Context, method, address, path string, body any) (*Response, error) {
	log := logr.FromContextOrDiscard(ctx)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, retry.Terminal(fmt.Errorf("encoding request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	requestURL := URL(address, path)
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, retry.Terminal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := ch.limiter.Wait(ctx, address); err != nil {
		return nil, err
	}

	log.V(1).Info("Calling", "method", method, "url", requestURL)
	res, err := ch.client.Do(req)
	if err != nil {
		return nil, retry.Transient(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reading response from %s: %w", requestURL, err))
	}
	log.V(1).Info("Response", "url", requestURL, "status", res.StatusCode, "size", len(data))
	return &Response{StatusCode: res.StatusCode, Body: data}, nil
}

// CheckStatus maps an HTTP status to the retry taxonomy: 2xx is success, 408, 429 and 5xx
// are transient, anything else is terminal.
func CheckStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return retry.Transient(fmt.Errorf("HTTP status %d", code))
	default:
		return retry.Terminal(fmt.Errorf("HTTP status %d", code))
	}
}

// GetJSON fetches path and decodes the JSON document into out.
func (ch *Channel) GetJSON(ctx context.Context, address, path string, out any) error {
	res, err := ch.Do(ctx, http.MethodGet, address, path, nil)
	if err != nil {
		return err
	}
	if err := CheckStatus(res.StatusCode); err != nil {
		return err
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return retry.Terminal(fmt.Errorf("decoding %s: %w", URL(address, path), err))
	}
	return nil
}

// CallE invokes a Gen2+ RPC method as POST /rpc/<method> with params as the JSON body.
// A nil out discards the result.
func (ch *Channel) CallE(ctx context.Context, address, method string, params any, out any) error {
	if params == nil {
		params = struct{}{}
	}
	res, err := ch.Do(ctx, http.MethodPost, address, "rpc/"+method, params)
	if err != nil {
		return err
	}
	if err := CheckStatus(res.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return retry.Terminal(fmt.Errorf("decoding %s result: %w", method, err))
	}
	return nil
}
