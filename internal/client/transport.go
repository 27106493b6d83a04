package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aktibguard/aktibguard/internal/config"
	"golang.org/x/net/proxy"
)

// newHTTPClient builds the transport used by the API client, routed
// through the configured proxy.
func newHTTPClient(timeout time.Duration, proxyCfg *config.ProxyConfig) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	switch {
	case !proxyCfg.HasProxy():
	case proxyCfg.SOCKS5Proxy != "":
		dial, err := socks5Dialer(proxyCfg.SOCKS5Proxy, dialer)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dial
	default:
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyURL(req.URL, proxyCfg)
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func socks5Dialer(raw string, forward *net.Dialer) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse socks5 proxy: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("socks5 proxy %q must use the socks5 scheme", MaskProxyURL(raw))
	}

	d, err := proxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("create socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	return cd.DialContext, nil
}

// proxyURL picks the proxy for a request URL, or nil for a direct connection.
func proxyURL(target *url.URL, cfg *config.ProxyConfig) (*url.URL, error) {
	if bypassProxy(target.Host, cfg.NoProxy) {
		return nil, nil
	}
	raw := cfg.HTTPProxy
	if target.Scheme == "https" && cfg.HTTPSProxy != "" {
		raw = cfg.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// bypassProxy matches host against a comma separated no_proxy list. An
// entry matches the host itself and its subdomains; "*" matches everything.
func bypassProxy(host, noProxy string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case entry == "*":
			return true
		case strings.HasPrefix(entry, "."):
			if strings.HasSuffix(host, entry) || host == entry[1:] {
				return true
			}
		case host == entry || strings.HasSuffix(host, "."+entry):
			return true
		}
	}
	return false
}

// ProxyInfo describes the proxy configuration with credentials masked.
func ProxyInfo(cfg *config.ProxyConfig) string {
	if !cfg.HasProxy() {
		return "none"
	}

	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+" "+MaskProxyURL(value))
		}
	}
	add("socks5", cfg.SOCKS5Proxy)
	add("http", cfg.HTTPProxy)
	add("https", cfg.HTTPSProxy)
	if cfg.NoProxy != "" {
		parts = append(parts, "bypass "+cfg.NoProxy)
	}
	return strings.Join(parts, ", ")
}

// MaskProxyURL hides the password of a proxy URL.
func MaskProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
