package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/asnowfix/deco/internal/mynet"
	"github.com/asnowfix/deco/pkg/retry"

	"github.com/go-logr/logr"
)

// HTTPSink POSTs each reading as a JSON document.
type HTTPSink struct {
	client   *http.Client
	resolver *mynet.Resolver
	url      *url.URL
}

// CollectorURL is the explicit URL when set, http://<serverName>.local:<port>/ otherwise.
func CollectorURL(explicit, serverName string, port int) (*url.URL, error) {
	if explicit != "" {
		u, err := url.Parse(explicit)
		if err != nil {
			return nil, fmt.Errorf("parsing collector url %q: %w", explicit, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("collector url %q has no scheme or host", explicit)
		}
		return u, nil
	}
	if serverName == "" {
		return nil, fmt.Errorf("no collector url nor server name configured")
	}
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(serverName+".local", strconv.Itoa(port)),
		Path:   "/",
	}, nil
}

// NewHTTPSink sends to u. A nil resolver uses the system resolver only.
func NewHTTPSink(client *http.Client, resolver *mynet.Resolver, u *url.URL) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{client: client, resolver: resolver, url: u}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) URL() string { return s.url.String() }

// target replaces the host of the collector URL by its address, so .local names work on
// systems without an mDNS-aware resolver.
func (s *HTTPSink) target(ctx context.Context) (*url.URL, error) {
	host := s.url.Hostname()
	if s.resolver == nil || net.ParseIP(host) != nil {
		return s.url, nil
	}
	ips, err := s.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, retry.Transient(err)
	}
	if len(ips) == 0 {
		return nil, retry.Transient(fmt.Errorf("no address for %s", host))
	}
	u := *s.url
	if port := s.url.Port(); port != "" {
		u.Host = net.JoinHostPort(ips[0].String(), port)
	} else {
		u.Host = ips[0].String()
		if ips[0].To4() == nil {
			u.Host = "[" + u.Host + "]"
		}
	}
	return &u, nil
}

func (s *HTTPSink) Send(ctx context.Context, r Reading) error {
	log := logr.FromContextOrDiscard(ctx)

	body, err := json.Marshal(r)
	if err != nil {
		return retry.Terminal(fmt.Errorf("encoding reading of %s: %w", r.Name, err))
	}

	u, err := s.target(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return retry.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Host = s.url.Host

	res, err := s.client.Do(req)
	if err != nil {
		return retry.Transient(err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return retry.Transient(fmt.Errorf("collector answered HTTP status %d", res.StatusCode))
	}
	log.V(1).Info("Forwarded", "device", r.Name, "url", u.String())
	return nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
