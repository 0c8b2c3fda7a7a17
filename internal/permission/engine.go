// Package permission evaluates CRUD grants for (endpoint, verb) pairs
// against a key's permission group. The model is a whitelist: once a group
// is attached, every endpoint/operation pair must be explicitly granted.
package permission

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/risecrm/apigate/internal/models"
)

// RouteTable maps request paths to endpoint names. Built once at startup
// from the registered resource list so that path-shape failures are explicit
// instead of ad hoc string splitting at request time.
type RouteTable struct {
	prefix    string
	resources map[string]bool
}

// NewRouteTable builds a table for paths of the form {prefix}/{endpoint}/...
func NewRouteTable(prefix string, resources []string) *RouteTable {
	t := &RouteTable{
		prefix:    strings.TrimSuffix(prefix, "/") + "/",
		resources: make(map[string]bool, len(resources)),
	}
	for _, r := range resources {
		t.resources[r] = true
	}
	return t
}

// Resolve extracts the endpoint name from a request path. ok is false when
// the path does not have the expected shape; unknown-but-well-formed names
// are returned as-is so the permissions map gets to deny them.
func (t *RouteTable) Resolve(path string) (endpoint string, ok bool) {
	rest, found := strings.CutPrefix(path, t.prefix)
	if !found {
		return "", false
	}
	endpoint, _, _ = strings.Cut(rest, "/")
	if endpoint == "" {
		return "", false
	}
	return endpoint, true
}

// Known reports whether an endpoint name was registered at startup.
func (t *RouteTable) Known(endpoint string) bool {
	return t.resources[endpoint]
}

// Denial is a refused authorization with a caller-facing message.
type Denial struct {
	Reason  string
	Message string
}

// Denial reasons.
const (
	ReasonConfigError         = "PermissionConfigError"
	ReasonEndpointNotAllowed  = "EndpointNotAllowed"
	ReasonOperationNotAllowed = "OperationNotAllowed"
)

// verb -> CRUD operation
var operations = map[string]string{
	http.MethodPost:   "create",
	http.MethodGet:    "read",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

type Engine struct {
	routes *RouteTable
}

func NewEngine(routes *RouteTable) *Engine {
	return &Engine{routes: routes}
}

// Authorize returns nil when the request is allowed. A key without a group
// is unrestricted (historical behavior); a group that is present but grants
// nothing denies everything. Requests whose endpoint or verb cannot be
// resolved are allowed, matching the host application.
func (e *Engine) Authorize(path, method string, group *models.PermissionGroup) *Denial {
	if group == nil {
		return nil
	}

	var perms map[string]map[string]bool
	if err := json.Unmarshal([]byte(group.Permissions), &perms); err != nil {
		return &Denial{
			Reason:  ReasonConfigError,
			Message: "Invalid permission configuration",
		}
	}

	endpoint, ok := e.routes.Resolve(path)
	if !ok {
		return nil
	}

	operation, ok := operations[method]
	if !ok {
		return nil
	}

	grants, ok := perms[endpoint]
	if !ok {
		return &Denial{
			Reason:  ReasonEndpointNotAllowed,
			Message: fmt.Sprintf("Endpoint %s is not allowed", strings.ToUpper(endpoint)),
		}
	}

	if !grants[operation] {
		return &Denial{
			Reason:  ReasonOperationNotAllowed,
			Message: fmt.Sprintf("Operation %s is not allowed on endpoint %s", strings.ToUpper(operation), strings.ToUpper(endpoint)),
		}
	}

	return nil
}
