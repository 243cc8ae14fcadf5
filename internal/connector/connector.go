// Package connector defines the boundary to remote content services.
//
// A Connector pulls the current records of a remote table and pushes
// create/update/delete operations back. Service-specific adapters (Notion,
// Airtable, Webflow) live outside this module; the package ships a JSON file
// connector used by the CLI and tests, plus a circuit breaker decorator.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/scratchpad/internal/ir"
)

// RemoteRecord is one record as returned by a pull.
type RemoteRecord struct {
	RemoteID string    `json:"id" yaml:"id"`
	Fields   ir.Fields `json:"fields" yaml:"fields"`
	Metadata ir.Fields `json:"metadata,omitempty" yaml:"metadata"`
}

// OpKind is the kind of a push operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is a single change pushed to the remote.
type Op struct {
	Kind     OpKind    `json:"kind"`
	WsID     string    `json:"ws_id"`
	RemoteID string    `json:"remote_id,omitempty"` // empty for creates
	Fields   ir.Fields `json:"fields,omitempty"`    // full fields for creates, changed fields for updates
	Metadata ir.Fields `json:"metadata,omitempty"`
}

// OpResult reports the outcome of one Op. Results are matched to ops by WsID.
type OpResult struct {
	WsID     string    `json:"ws_id"`
	RemoteID string    `json:"remote_id,omitempty"` // assigned id for creates
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Fields   ir.Fields `json:"fields,omitempty"` // remote values after the write, when the service echoes them
}

// Connector is the interface every remote service adapter implements.
type Connector interface {
	// PullRecords returns every current record of the table.
	PullRecords(ctx context.Context, table ir.TableSpec) ([]RemoteRecord, error)

	// PushRecords applies ops and reports a result per op. A returned error
	// means the push as a whole failed and no result can be trusted.
	PushRecords(ctx context.Context, table ir.TableSpec, ops []Op) ([]OpResult, error)
}

// Error wraps a failure raised by a connector. Sync jobs turn it into a
// table-level failed status.
type Error struct {
	Service string
	Table   string
	Op      string // "pull" or "push"
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("CONNECTOR: %s %s of table %s: %v", e.Service, e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConnectorError reports whether err came from a connector.
func IsConnectorError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// ErrUnknownService is returned by Registry.Get for unregistered services.
var ErrUnknownService = errors.New("unknown connector service")

// Registry maps service names ("notion", "file", ...) to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds or replaces the connector for service.
func (r *Registry) Register(service string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[service] = c
}

// Get returns the connector for service.
func (r *Registry) Get(service string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return c, nil
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
