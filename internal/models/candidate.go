package models

import (
	"net/url"
	"strings"
)

// Role is the caller's role as reported by the authentication layer.
type Role string

const (
	RoleAny     Role = "any"
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Operation names a logical backend operation the dispatcher can perform.
type Operation string

const (
	OpSend     Operation = "send"
	OpFetch    Operation = "fetch"
	OpMarkRead Operation = "mark-read"
)

// PayloadShape builds the JSON body for one candidate's convention.
// Candidates without a request body (GET/PUT routes) leave it nil.
type PayloadShape func(receiver, content, subject string) interface{}

// EndpointCandidate is one concrete (route, payload shape) combination the
// dispatcher may try for an operation. Candidates are held in priority order;
// a diagnostic report may permute that order but never removes a
// scope-eligible candidate.
type EndpointCandidate struct {
	Operation   Operation    `json:"operation"`
	Description string       `json:"description"`
	Method      string       `json:"method"`
	Route       string       `json:"route"`
	Scope       Role         `json:"scope"`
	Shape       PayloadShape `json:"-"`
}

// EligibleFor reports whether the candidate may be tried for the given role.
// Staff-scoped routes are also open to admins.
func (c EndpointCandidate) EligibleFor(role Role) bool {
	switch c.Scope {
	case RoleAny, "":
		return true
	case RoleStaff:
		return role == RoleStaff || role == RoleAdmin
	default:
		return role == c.Scope
	}
}

// ExpandRoute substitutes {name} placeholders in the candidate route.
// Values are escaped for where they land: path segments use path escaping,
// anything after the '?' uses query escaping.
func (c EndpointCandidate) ExpandRoute(vars map[string]string) string {
	path := c.Route
	query := ""
	if i := strings.Index(path, "?"); i >= 0 {
		path, query = path[:i], path[i:]
	}
	for name, value := range vars {
		placeholder := "{" + name + "}"
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		query = strings.ReplaceAll(query, placeholder, url.QueryEscape(value))
	}
	return path + query
}
