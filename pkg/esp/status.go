// Package esp reads the status page served by the home-made ESP8266/ESP32 sensors.
//
// The page carries its facts inside a `<div1>` element, one `key: value` pair per line,
// preceded by a `-----> <firmware> V<version> ...` banner.
package esp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"golang.org/x/net/html"
)

const (
	VersionKey      = "Version"
	HostnameKey     = "Hostname"
	DefaultHostname = "ESP_Device"

	statusElement = "div1"
	bannerPrefix  = "----->"
)

// Parse extracts the key/value facts of a status page. It always returns a Hostname.
func Parse(r io.Reader) map[string]string {
	facts := make(map[string]string)

	z := html.NewTokenizer(r)
	inside := false
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == statusElement {
				inside = true
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == statusElement {
				break loop
			}
		case html.TextToken:
			if inside {
				parseText(string(z.Text()), facts)
			}
		}
	}

	if facts[HostnameKey] == "" {
		facts[HostnameKey] = DefaultHostname
	}
	return facts
}

func parseText(text string, facts map[string]string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, bannerPrefix) {
			if v := bannerVersion(line); v != "" {
				facts[VersionKey] = v
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		facts[key] = strings.TrimSpace(value)
	}
}

// bannerVersion returns "V<x>" for the first "V" of the banner, up to the next space.
func bannerVersion(line string) string {
	i := strings.Index(line, "V")
	if i < 0 {
		return ""
	}
	v, _, _ := strings.Cut(line[i+1:], " ")
	if v == "" {
		return ""
	}
	return "V" + v
}

// Fetch downloads and parses the status page of the device at address.
func Fetch(ctx context.Context, ch *shttp.Channel, address string) (map[string]string, error) {
	res, err := ch.Do(ctx, http.MethodGet, address, "", nil)
	if err != nil {
		return nil, err
	}
	if err := shttp.CheckStatus(res.StatusCode); err != nil {
		return nil, fmt.Errorf("status page of %s: %w", address, err)
	}
	return Parse(bytes.NewReader(res.Body)), nil
}
