package outline

import (
	"encoding/base64"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// AccessURL is the result of parsing a provider access URL of the form
// ss://base64(method:password)@host:port#tag. Malformed input keeps the raw
// string and sets Parsed to false, so callers can still hand the credential
// back verbatim instead of failing the request.
type AccessURL struct {
	Raw    string
	Parsed bool

	Method   string
	Password string
	Host     string
	Port     int
	Tag      string
	Prefix   string
}

// ParseAccessURL decodes an ss:// access URL. The fallback to an opaque
// result is deliberate: clients understand raw access URLs too.
func ParseAccessURL(raw string) AccessURL {
	opaque := AccessURL{Raw: raw}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "ss" {
		return opaque
	}

	var userInfo string
	var hostPort string

	if u.User != nil {
		// ss://base64(method:password)@host:port form
		userInfo = u.User.Username()
		hostPort = u.Host
	} else {
		// Fully base64 form: ss://base64(method:password@host:port)
		decoded, err := decodeBase64(u.Opaque)
		if err != nil {
			return opaque
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return opaque
		}
		userInfo = base64.RawURLEncoding.EncodeToString([]byte(decoded[:at]))
		hostPort = decoded[at+1:]
	}

	decoded, err := decodeBase64(userInfo)
	if err != nil {
		return opaque
	}

	method, password, ok := strings.Cut(decoded, ":")
	if !ok || method == "" {
		return opaque
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return opaque
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return opaque
	}

	return AccessURL{
		Raw:      raw,
		Parsed:   true,
		Method:   method,
		Password: password,
		Host:     host,
		Port:     port,
		Tag:      u.Fragment,
		Prefix:   u.Query().Get("prefix"),
	}
}

// decodeBase64 accepts both standard and URL-safe alphabets, padded or not
func decodeBase64(s string) (string, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(s)
		if err == nil {
			return string(decoded), nil
		}
		lastErr = err
	}
	return "", lastErr
}
