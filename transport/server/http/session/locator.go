package session

import (
	"fmt"
	"net/http"
	"net/url"
)

// Locator extracts and injects a session id at a configured Location
// (an HTTP header or a query parameter).
type Locator interface {
	// Locate reads the session id carried by r at the given location.
	Locate(location *Location, r *http.Request) (string, error)
	// Set writes id into query under the given location's name, for
	// constructing a callback URL (e.g. the SSE "endpoint" event).
	Set(location *Location, query url.Values, id string) error
}

type defaultLocator struct{}

// NewLocator returns the Locator implementation used by both the SSE and
// streamable HTTP transports.
func NewLocator() Locator {
	return defaultLocator{}
}

func (defaultLocator) Locate(location *Location, r *http.Request) (string, error) {
	if location == nil {
		return "", fmt.Errorf("nil session location")
	}
	switch location.Kind {
	case "header":
		return r.Header.Get(location.Name), nil
	case "query":
		return r.URL.Query().Get(location.Name), nil
	default:
		return "", fmt.Errorf("unsupported session location kind %q", location.Kind)
	}
}

func (defaultLocator) Set(location *Location, query url.Values, id string) error {
	if location == nil {
		return fmt.Errorf("nil session location")
	}
	if location.Kind != "query" {
		return fmt.Errorf("cannot embed a %q-located session id in a URL query", location.Kind)
	}
	query.Set(location.Name, id)
	return nil
}
