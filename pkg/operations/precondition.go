// Package operations runs the end-to-end workflows: resolve a host, walk to
// its access port, and preview or apply a VLAN change there, recording
// each run in the audit log and the archive.
package operations

import (
	"errors"
	"fmt"

	"github.com/vlanhop/vlanhop/pkg/topology"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// PreconditionChecker collects failed checks on a located port before a
// change is attempted.
type PreconditionChecker struct {
	operation string
	resource  string
	errors    []error
}

// NewPreconditionChecker creates a checker for operation on resource.
func NewPreconditionChecker(operation, resource string) *PreconditionChecker {
	return &PreconditionChecker{operation: operation, resource: resource}
}

// RequirePath checks that the walk produced an edge.
func (p *PreconditionChecker) RequirePath(path *topology.Path) *PreconditionChecker {
	if path == nil || len(path.Hops) == 0 {
		p.errors = append(p.errors, util.NewPreconditionError(
			p.operation, p.resource, "host must be located", "empty path"))
	}
	return p
}

// RequireAccessEdge checks that the edge is a single port, not a bundle.
func (p *PreconditionChecker) RequireAccessEdge(edge topology.Hop) *PreconditionChecker {
	if util.IsPortChannel(edge.Interface) {
		p.errors = append(p.errors, util.NewPreconditionError(
			p.operation, p.resource, "edge must be a physical access port",
			fmt.Sprintf("host is behind %s on %s", edge.Interface, edge.Device)))
	}
	return p
}

// RequireKnownDevice checks that the edge device is in the inventory, so
// its type and credentials are not guessed.
func (p *PreconditionChecker) RequireKnownDevice(edge topology.Hop, known func(string) bool) *PreconditionChecker {
	if known != nil && !known(edge.Device) {
		p.errors = append(p.errors, util.NewPreconditionError(
			p.operation, p.resource, "edge device must be in the inventory",
			fmt.Sprintf("%s (%s) was reached through CDP only", edge.Device, edge.Host)))
	}
	return p
}

// Check adds a custom check.
func (p *PreconditionChecker) Check(condition bool, precondition, details string) *PreconditionChecker {
	if !condition {
		p.errors = append(p.errors, util.NewPreconditionError(p.operation, p.resource, precondition, details))
	}
	return p
}

// Result returns the failed checks joined, or nil.
func (p *PreconditionChecker) Result() error {
	return errors.Join(p.errors...)
}
