// Package route compiles and matches the method+path route patterns a
// resource server declares as payable, independent of any HTTP router
// framework. CedrosPay registers its paywalled endpoints directly against
// chi (internal/httpserver/server.go, r.Get/r.Post with literal prefixes);
// this package generalizes that registration table into a standalone
// compiler so the resource-server engine can match against declared
// patterns before a chi mux (or any other router) is even in the picture.
package route

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/x402-protocol/core/pkg/x402"
)

// segmentKind classifies one path segment of a compiled pattern.
type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentWildcard          // "*" — matches exactly one path segment
	segmentTrailing          // "**" — matches the remainder of the path, must be last
)

type segment struct {
	kind    segmentKind
	literal string
}

// Pattern is a compiled method+path route, ready for repeated matching.
type Pattern struct {
	Method   string
	Raw      string
	segments []segment
	Config   x402.RouteConfig
}

// specificity orders patterns for precedence when more than one could match
// the same request: exact segments first, then single-segment wildcards,
// then trailing wildcards, mirroring the documented precedence in §4.3.
func (p *Pattern) specificity() (exactCount, wildcardCount int, hasTrailing bool) {
	for _, seg := range p.segments {
		switch seg.kind {
		case segmentLiteral:
			exactCount++
		case segmentWildcard:
			wildcardCount++
		case segmentTrailing:
			hasTrailing = true
		}
	}
	return
}

// Compile parses a "METHOD /path/with/*wildcards/**trailing" pattern into a
// Pattern. Method defaults to "*" (any method) if omitted.
func Compile(raw string, cfg x402.RouteConfig) (*Pattern, error) {
	method, path := splitMethodPath(raw)
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("route: pattern %q must have an absolute path", raw)
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for i, part := range parts {
		switch part {
		case "**":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("route: trailing wildcard %q must be the last segment in %q", "**", raw)
			}
			segs = append(segs, segment{kind: segmentTrailing})
		case "*":
			segs = append(segs, segment{kind: segmentWildcard})
		default:
			segs = append(segs, segment{kind: segmentLiteral, literal: part})
		}
	}

	return &Pattern{Method: method, Raw: raw, segments: segs, Config: cfg}, nil
}

func splitMethodPath(raw string) (method, path string) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		return strings.ToUpper(raw[:i]), strings.TrimSpace(raw[i+1:])
	}
	return "*", raw
}

// Match reports whether the pattern matches the given method and path.
func (p *Pattern) Match(method, path string) bool {
	if p.Method != "*" && !strings.EqualFold(p.Method, method) {
		return false
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range p.segments {
		switch seg.kind {
		case segmentTrailing:
			return i <= len(parts)
		case segmentWildcard:
			if i >= len(parts) {
				return false
			}
		case segmentLiteral:
			if i >= len(parts) || parts[i] != seg.literal {
				return false
			}
		}
	}
	return len(parts) == len(p.segments)
}

// Table holds the compiled set of payable routes for a resource server and
// resolves an incoming request to its RouteConfig, applying exact > single-
// wildcard > trailing-wildcard precedence when multiple patterns match.
type Table struct {
	patterns []*Pattern
}

// NewTable compiles every entry of a method->path->RouteConfig declaration
// map into a Table. Keys are "METHOD /path" strings, matching Compile's
// accepted format.
func NewTable(routes map[string]x402.RouteConfig) (*Table, error) {
	t := &Table{}
	for raw, cfg := range routes {
		p, err := Compile(raw, cfg)
		if err != nil {
			return nil, err
		}
		t.patterns = append(t.patterns, p)
	}
	return t, nil
}

// Patterns returns every compiled pattern in the table, for callers that
// need to enumerate declared routes rather than resolve a single request
// (e.g. the bazaar discovery extension).
func (t *Table) Patterns() []*Pattern {
	return t.patterns
}

// Resolve finds the most specific pattern matching an HTTP request's method
// and path and returns its RouteConfig. ok is false if the request isn't a
// payable route.
func (t *Table) Resolve(r *http.Request) (x402.RouteConfig, *Pattern, bool) {
	var best *Pattern
	var bestExact, bestWildcard int
	var bestTrailing bool

	for _, p := range t.patterns {
		if !p.Match(r.Method, r.URL.Path) {
			continue
		}
		exact, wildcard, trailing := p.specificity()
		if best == nil || moreSpecific(exact, wildcard, trailing, bestExact, bestWildcard, bestTrailing) {
			best, bestExact, bestWildcard, bestTrailing = p, exact, wildcard, trailing
		}
	}
	if best == nil {
		return x402.RouteConfig{}, nil, false
	}
	return best.Config, best, true
}

// moreSpecific reports whether candidate (exact, wildcard, trailing) beats
// the current best under exact > wildcard > trailing precedence.
func moreSpecific(exact, wildcard int, trailing bool, bestExact, bestWildcard int, bestTrailing bool) bool {
	if trailing != bestTrailing {
		return !trailing // a non-trailing match always beats a trailing one
	}
	if exact != bestExact {
		return exact > bestExact
	}
	return wildcard > bestWildcard
}
