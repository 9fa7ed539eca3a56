package models

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	fingerprintPrefix = "fp"
	sessionPrefix     = "session"
)

// Fingerprint identifies one repeated action by one client.
// Key is the tracker key; Hash is the client-independent action digest
// recorded in the client's session.
type Fingerprint struct {
	Key  string
	Hash string
}

// NewFingerprint derives the fingerprint for (client, method, path, body).
// The body only contributes for mutating methods so repeated reads of the same
// resource collapse to one fingerprint.
func NewFingerprint(clientID, method, rawPath string, body []byte) Fingerprint {
	method = strings.ToUpper(method)
	digest := ""
	if isMutating(method) {
		digest = BodyDigest(body)
	}
	return newFingerprint(clientID, method, rawPath, digest)
}

// NewPrefixFingerprint is NewFingerprint for a body of which only prefix was
// read. The full length joins the digest so large bodies sharing a prefix stay
// apart.
func NewPrefixFingerprint(clientID, method, rawPath string, prefix []byte, size int64) Fingerprint {
	method = strings.ToUpper(method)
	digest := ""
	if isMutating(method) {
		digest = PrefixDigest(prefix, size)
	}
	return newFingerprint(clientID, method, rawPath, digest)
}

// Fingerprint derives the request's fingerprint.
func (r Request) Fingerprint() Fingerprint {
	if r.BodyTruncated {
		return NewPrefixFingerprint(r.ClientIP, r.Method, r.Path, r.Body, r.BodySize)
	}
	return NewFingerprint(r.ClientIP, r.Method, r.Path, r.Body)
}

func newFingerprint(clientID, method, rawPath, digest string) Fingerprint {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(NormalizePath(rawPath)))
	h.Write([]byte{0})
	h.Write([]byte(digest))
	action := hex.EncodeToString(h.Sum(nil))[:32]

	return Fingerprint{
		Key:  FingerprintClientPrefix(clientID) + action,
		Hash: action,
	}
}

// FingerprintClientPrefix is the key prefix shared by every fingerprint of a client.
func FingerprintClientPrefix(clientID string) string {
	return fingerprintPrefix + ":" + sanitizeKeySegment(clientID) + ":"
}

// SessionKey identifies a client session. With includeUserAgent, clients behind
// one NAT address but with different agents are tracked separately.
func SessionKey(clientIP, userAgent string, includeUserAgent bool) string {
	key := SessionClientPrefix(clientIP)
	if includeUserAgent {
		sum := blake2b.Sum256([]byte(userAgent))
		key += hex.EncodeToString(sum[:8])
	}
	return key
}

// SessionClientPrefix is the key prefix shared by every session of a client IP.
func SessionClientPrefix(clientIP string) string {
	return sessionPrefix + ":" + sanitizeKeySegment(clientIP) + ":"
}

// NormalizePath drops the query string, collapses duplicate and trailing
// slashes, and lowercases so cosmetic URL variants share a fingerprint.
func NormalizePath(raw string) string {
	p, _, _ := strings.Cut(raw, "?")
	p, _, _ = strings.Cut(p, "#")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

// BodyDigest hashes a request body. JSON bodies are re-encoded first so key
// order and whitespace do not produce distinct digests. Empty bodies yield "".
func BodyDigest(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	canonical := body
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		// encoding/json sorts map keys
		if encoded, err := json.Marshal(decoded); err == nil {
			canonical = encoded
		}
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// PrefixDigest hashes the raw prefix of a body together with its full size.
// A prefix of JSON is not valid JSON, so no canonical form applies.
func PrefixDigest(prefix []byte, size int64) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("prefix:"))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
	h.Write(prefix)
	return hex.EncodeToString(h.Sum(nil))
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// sanitizeKeySegment escapes the ':' delimiter so client identifiers (IPv6
// addresses, spoofed values) cannot collide with another client's keys.
// '_' is escaped first so the mapping stays injective.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
