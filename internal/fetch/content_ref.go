package fetch

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

const (
	KeyParam     = "key"
	SessionParam = "session"

	// Output file extension of materialized tiles
	AssetExtension = ".glb"
)

// ContentRef points at one leaf binary asset discovered during traversal
type ContentRef struct {
	URL          *url.URL // resolved content url without credentials
	SessionToken string
	APIKey       string
}

// RequestURL returns the url to issue, carrying the api key and, when known, the session
func (r ContentRef) RequestURL() string {
	return WithCredentials(r.URL, r.APIKey, r.SessionToken)
}

// CacheKey is the content identity of the asset, independent of credentials
func (r ContentRef) CacheKey() string {
	return CacheKey(r.URL)
}

func (r ContentRef) Filename() string {
	return r.CacheKey() + AssetExtension
}

func (r ContentRef) String() string {
	return StripCredentials(r.URL).String()
}

// WithCredentials adds key and session query parameters. An existing session parameter is kept.
func WithCredentials(u *url.URL, apiKey, session string) string {
	clone := *u
	q := clone.Query()
	if apiKey != "" {
		q.Set(KeyParam, apiKey)
	}
	if session != "" && q.Get(SessionParam) == "" {
		q.Set(SessionParam, session)
	}
	clone.RawQuery = q.Encode()
	return clone.String()
}

// StripCredentials removes key and session and canonicalizes the remaining parameter order
func StripCredentials(u *url.URL) *url.URL {
	clone := *u
	q := clone.Query()
	q.Del(KeyParam)
	q.Del(SessionParam)
	// Encode sorts by key
	clone.RawQuery = q.Encode()
	clone.Fragment = ""
	clone.RawFragment = ""
	return &clone
}

// CacheKey is the lower-case hex SHA-1 of the credential-free, canonicalized url
func CacheKey(u *url.URL) string {
	digest := sha1.Sum([]byte(StripCredentials(u).String()))
	return hex.EncodeToString(digest[:])
}

// IsAsset reports whether the url path names a binary asset
func IsAsset(u *url.URL) bool {
	return strings.EqualFold(path.Ext(u.Path), AssetExtension)
}

// IsTileset reports whether the url path names a nested tileset descriptor
func IsTileset(u *url.URL) bool {
	return strings.EqualFold(path.Ext(u.Path), ".json")
}
