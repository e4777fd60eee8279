// Package bypass recognises bot-protection block pages served in place of an
// image, so a failed download can name the vendor that refused it.
package bypass

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
)

// Response is the part of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Signature describes one vendor's block page.
type Signature struct {
	Source string
	// Statuses the block page is served with.
	Statuses []int
	// ServerContains matches the lower-cased Server header.
	ServerContains string
	// Headers whose mere presence identifies the vendor.
	Headers []string
	// BodyMarkers are substrings of the block page.
	BodyMarkers []string
}

// DefaultSignatures covers the vendors image CDNs most commonly sit behind.
var DefaultSignatures = []Signature{
	{
		Source:         "Cloudflare",
		Statuses:       []int{http.StatusForbidden, http.StatusServiceUnavailable},
		ServerContains: "cloudflare",
		BodyMarkers:    []string{"cf-browser-verification", "cf-turnstile", "cloudflare-nginx", "Attention Required! | Cloudflare"},
	},
	{
		Source:         "Akamai",
		Statuses:       []int{http.StatusForbidden},
		ServerContains: "akamai",
	},
	{
		Source:         "DataDome",
		Statuses:       []int{http.StatusForbidden},
		ServerContains: "datadome",
		Headers:        []string{"X-DataDome", "X-DataDome-Response"},
		BodyMarkers:    []string{"geo.captcha-delivery.com"},
	},
	{
		Source:      "PerimeterX",
		Statuses:    []int{http.StatusForbidden},
		Headers:     []string{"X-Px-Captcha"},
		BodyMarkers: []string{"client.perimeterx.net", "px-captcha", "_pxBlock"},
	},
}

// Detect returns the first vendor whose signature matches res.
func Detect(res *Response, sigs []Signature) (string, bool) {
	if res == nil {
		return "", false
	}
	for _, s := range sigs {
		if s.matches(res) {
			return s.Source, true
		}
	}
	// Akamai's generic denial page carries no vendor header.
	if res.StatusCode == http.StatusForbidden &&
		bytes.Contains(res.Body, []byte("Access Denied")) &&
		bytes.Contains(res.Body, []byte("Reference #")) {
		return "Akamai", true
	}
	return "", false
}

func (s Signature) matches(res *Response) bool {
	if !slices.Contains(s.Statuses, res.StatusCode) {
		return false
	}
	if s.ServerContains != "" && strings.Contains(strings.ToLower(res.Header.Get("Server")), s.ServerContains) {
		return true
	}
	for _, h := range s.Headers {
		if res.Header.Get(h) != "" {
			return true
		}
	}
	for _, m := range s.BodyMarkers {
		if bytes.Contains(res.Body, []byte(m)) {
			return true
		}
	}
	return false
}
