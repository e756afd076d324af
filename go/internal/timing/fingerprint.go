package timing

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Fingerprint hashes the request attributes that identify a device.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding, ip string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{userAgent, acceptLanguage, acceptEncoding, ip}, "|")))
	return hex.EncodeToString(sum[:])
}

// FingerprintFromRequest derives the device fingerprint from request headers
// and the peer address. X-Forwarded-For is not trusted.
func FingerprintFromRequest(h http.Header, remoteAddr string) string {
	return Fingerprint(
		h.Get("User-Agent"),
		h.Get("Accept-Language"),
		h.Get("Accept-Encoding"),
		hostOnly(remoteAddr),
	)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
