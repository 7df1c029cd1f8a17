// Package device resolves accelerator bindings for solver invocations.
//
// Selection is purely declarative: explicit ids in, validated ids out.
// Sharing an accelerator between two heavyweight solver runs must be an
// explicit user decision, so there is no load balancing and no
// oversubscription heuristic at this layer.
package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Device describes one accelerator as reported by the prober. Capability
// and memory are zero when the prober could not determine them.
type Device struct {
	ID                int
	Name              string
	ComputeCapability float64
	MemoryMB          int
}

// Binding is the validated set of accelerator indices assigned to a single
// solver invocation.
type Binding struct {
	Devices []Device
}

// IDs returns the bound device indices in ascending order.
func (b Binding) IDs() []int {
	ids := make([]int, len(b.Devices))
	for i, d := range b.Devices {
		ids[i] = d.ID
	}
	sort.Ints(ids)
	return ids
}

// String renders the binding the way solver CLIs expect it, e.g. "0,2".
func (b Binding) String() string {
	ids := b.IDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// UnavailableError reports requested device ids absent from the probed
// inventory.
type UnavailableError struct {
	Requested []int
	Available []int
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("requested device ids %v are not all available (available: %v)", e.Requested, e.Available)
}

// UnsupportedError reports a device whose capability metadata is present
// but below what the solver requires.
type UnsupportedError struct {
	Device   Device
	Required float64
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("device %d (%s) has compute capability %.1f, solver requires at least %.1f",
		e.Device.ID, e.Device.Name, e.Device.ComputeCapability, e.Required)
}

// Prober enumerates the accelerators present on this host.
type Prober interface {
	Probe(ctx context.Context) ([]Device, error)
}

// Selector validates requested device ids against a probed inventory.
type Selector struct {
	available map[int]Device
	ids       []int
}

// NewSelector probes once and returns a selector over the result. Probing
// happens at construction so concurrent runs share an immutable inventory.
func NewSelector(ctx context.Context, prober Prober) (*Selector, error) {
	devices, err := prober.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe accelerator devices: %w", err)
	}
	s := &Selector{available: make(map[int]Device, len(devices))}
	for _, d := range devices {
		s.available[d.ID] = d
		s.ids = append(s.ids, d.ID)
	}
	sort.Ints(s.ids)
	return s, nil
}

// Available returns the probed device ids in ascending order.
func (s *Selector) Available() []int {
	return append([]int(nil), s.ids...)
}

// Select validates that every requested id exists and returns the binding.
// It fails with *UnavailableError when any id is absent; it never
// substitutes or reorders devices on the caller's behalf.
func (s *Selector) Select(requested []int) (Binding, error) {
	var binding Binding
	for _, id := range requested {
		d, ok := s.available[id]
		if !ok {
			return Binding{}, &UnavailableError{
				Requested: append([]int(nil), requested...),
				Available: s.Available(),
			}
		}
		binding.Devices = append(binding.Devices, d)
	}
	return binding, nil
}

// RequireCapability checks every device in the binding against a minimum
// compute capability. Devices with unknown capability (zero) pass: the
// check only rejects when metadata is present and insufficient, so hosts
// without a queryable driver still run.
func RequireCapability(b Binding, minimum float64) error {
	for _, d := range b.Devices {
		if d.ComputeCapability > 0 && d.ComputeCapability < minimum {
			return &UnsupportedError{Device: d, Required: minimum}
		}
	}
	return nil
}
