package tileset

import (
	"net/url"
	"sync"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
)

// Session holds the server issued session token. The first observed token sticks for the rest of the run.
type Session struct {
	token string
	sync.RWMutex
}

func (s *Session) Get() string {
	s.RLock()
	defer s.RUnlock()
	return s.token
}

// Observe records token if none is recorded yet and reports whether it was adopted
func (s *Session) Observe(token string) bool {
	if token == "" {
		return false
	}
	s.Lock()
	defer s.Unlock()
	if s.token != "" {
		return false
	}
	s.token = token
	return true
}

func sessionFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Query().Get(fetch.SessionParam)
}
