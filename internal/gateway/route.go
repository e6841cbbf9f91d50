package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/athalino-bakti/UTS/internal/config"
)

// Access is the verification policy of a route.
type Access string

const (
	// AccessPublic routes are forwarded without verification.
	AccessPublic Access = "public"
	// AccessProtected routes require a valid credential.
	AccessProtected Access = "protected"
	// AccessOptional routes are verified when possible and forwarded regardless.
	AccessOptional Access = "optional"
)

// ErrRouteNotFound is returned by Table.Match for unclassified paths.
var ErrRouteNotFound = errors.New("route not found")

// ParseAccess converts a configuration value to an Access.
func ParseAccess(s string) (Access, error) {
	switch a := Access(strings.ToLower(strings.TrimSpace(s))); a {
	case AccessPublic, AccessProtected, AccessOptional:
		return a, nil
	case "":
		return "", errors.New("access policy is required")
	default:
		return "", fmt.Errorf("unknown access policy %q", s)
	}
}

// Route classifies one path prefix.
type Route struct {
	Prefix      string
	Backend     string
	Target      *url.URL
	Access      Access
	StripPrefix bool
}

// matches reports whether path falls under the route prefix on a segment
// boundary, so /api/users matches /api/users/1 but not /api/usersettings.
func (r *Route) matches(path string) bool {
	if r.Prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// Table is the static route classification. Read-only after construction.
type Table struct {
	routes []*Route
}

// NewTable builds a Table from route definitions and a backend name to base
// URL map.
func NewTable(routes []config.RouteConfig, backends map[string]string) (*Table, error) {
	targets := make(map[string]*url.URL, len(backends))
	for name, raw := range backends {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("backend %q: unsupported scheme %q", name, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("backend %q: missing host", name)
		}
		targets[name] = u
	}

	t := &Table{routes: make([]*Route, 0, len(routes))}
	seen := make(map[string]bool, len(routes))
	for _, rc := range routes {
		if !strings.HasPrefix(rc.Prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must start with /", rc.Prefix)
		}
		prefix := rc.Prefix
		if len(prefix) > 1 {
			prefix = strings.TrimSuffix(prefix, "/")
		}
		if seen[prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", prefix)
		}
		seen[prefix] = true

		access, err := ParseAccess(rc.Access)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Prefix, err)
		}
		target, ok := targets[rc.Backend]
		if !ok {
			return nil, fmt.Errorf("route %q references unknown backend %q", rc.Prefix, rc.Backend)
		}

		t.routes = append(t.routes, &Route{
			Prefix:      prefix,
			Backend:     rc.Backend,
			Target:      target,
			Access:      access,
			StripPrefix: rc.StripPrefix,
		})
	}

	// Longest prefix first so the most specific route wins.
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})

	return t, nil
}

// Match returns the most specific route for path.
func (t *Table) Match(path string) (*Route, error) {
	for _, r := range t.routes {
		if r.matches(path) {
			return r, nil
		}
	}
	return nil, ErrRouteNotFound
}

// Routes returns the routes in match order.
func (t *Table) Routes() []*Route {
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}
