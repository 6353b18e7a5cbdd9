package spec

import (
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Registry indexes the operations of a Document by name across all
// resource groups. It is read-only once built.
//
// Two different endpoints declaring the same name collide. The last one
// declared wins and keeps the position of the first; every collision is
// recorded and logged.
type Registry struct {
	names      []string
	operations map[string]*Operation
	collisions []string
}

// NewRegistry builds the registry of doc.
func NewRegistry(doc *Document, logger fasjson.Logger) *Registry {
	if logger == nil {
		logger = fasjson.NopLogger{}
	}

	r := &Registry{operations: make(map[string]*Operation)}

	for _, endpoint := range doc.Endpoints() {
		op := NewOperation(endpoint)

		if previous, ok := r.operations[op.name]; ok {
			r.collisions = append(r.collisions, op.name)

			logger.Warn("Operation name collision", map[string]interface{}{
				"operation": op.name,
				"replaced":  previous.method + " " + previous.path,
				"by":        op.method + " " + op.path,
			})
		} else {
			r.names = append(r.names, op.name)
		}

		r.operations[op.name] = op
	}

	return r
}

// Names returns the operation names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Get returns the named operation, or an *fasjson.UnknownOperationError.
func (r *Registry) Get(name string) (*Operation, error) {
	op, ok := r.operations[name]
	if !ok {
		return nil, fasjson.NewUnknownOperationError(name)
	}

	return op, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.operations[name]

	return ok
}

// Len returns the number of operations.
func (r *Registry) Len() int {
	return len(r.names)
}

// Collisions returns the names that were declared more than once.
func (r *Registry) Collisions() []string {
	return append([]string(nil), r.collisions...)
}
