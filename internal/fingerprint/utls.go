package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names the TLS ClientHello an image download presents.
type Profile string

const (
	ProfileGo      Profile = "go" // crypto/tls, no mimicry
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileRandom  Profile = "random"
)

var helloIDs = map[Profile]utls.ClientHelloID{
	ProfileChrome:  utls.HelloChrome_Auto,
	ProfileFirefox: utls.HelloFirefox_Auto,
	ProfileSafari:  utls.HelloIOS_Auto,
	ProfileRandom:  utls.HelloRandomizedALPN,
}

// Parse maps a user-supplied name onto a Profile. The empty string is go.
func Parse(name string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(name)))
	if p == "" || p == ProfileGo {
		return ProfileGo, nil
	}
	if _, ok := helloIDs[p]; !ok {
		return "", fmt.Errorf("fingerprint: unknown profile %q", name)
	}
	return p, nil
}

// Options adjust the transport built by Transport.
type Options struct {
	// Proxy selects a proxy per request; nil means ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Transport returns a clone of http.DefaultTransport whose TLS handshake
// mimics p. ProfileGo keeps the standard crypto/tls handshake.
func Transport(p Profile, opts Options) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		tr.Proxy = opts.Proxy
	}

	if p == ProfileGo || p == "" {
		if opts.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return tr, nil
	}

	hello, ok := helloIDs[p]
	if !ok {
		return nil, fmt.Errorf("fingerprint: unknown profile %q", p)
	}

	dial := tr.DialContext
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		conn := utls.UClient(raw, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}, hello)
		if err := conn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("fingerprint: %s handshake with %s: %w", p, host, err)
		}
		return conn, nil
	}
	return tr, nil
}
