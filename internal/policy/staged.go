package policy

import (
	"fmt"
	"sync"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/registry"
)

// DefaultHistory is the number of active counts remembered per device.
const DefaultHistory = 10

// Staged forces stage outputs off based on how many are running.
type Staged struct {
	table map[int][]shed.Role
	size  int

	mu      sync.Mutex
	history map[string]*ring
}

// NewStaged builds the staged capacity policy.
func NewStaged(cfg config.StagedPolicyConfig) *Staged {
	table := make(map[int][]shed.Role, len(cfg.Table))
	for count, names := range cfg.Table {
		table[count] = toRoles(names)
	}

	size := cfg.History
	if size <= 0 {
		size = DefaultHistory
	}

	return &Staged{
		table:   table,
		size:    size,
		history: make(map[string]*ring),
	}
}

// Name implements Policy.
func (*Staged) Name() string {
	return config.PolicyStaged
}

// Escalates implements Escalating.
func (*Staged) Escalates() bool {
	return true
}

// Inputs implements Policy. Every stage output is read.
func (*Staged) Inputs(d *shed.Device) []shed.Role {
	return registry.Stages(d)
}

// Plan implements Policy. The table is applied to the initial readings.
func (p *Staged) Plan(in Input) []shed.Action {
	return p.Decide(in)
}

// Decide implements Policy.
func (p *Staged) Decide(in Input) []shed.Action {
	var actions []shed.Action

	for _, d := range in.Registry.Devices() {
		count, ok := p.activeCount(in, d)
		if !ok {
			continue
		}

		p.record(d.Name, count)

		for _, role := range p.table[count] {
			if _, exists := d.Points[role]; !exists {
				continue
			}

			if in.Ledger != nil && in.Ledger.Has(d.Name, role) {
				continue
			}

			actions = append(actions, forceOff(d.Name, role, fmt.Sprintf("%d stages active", count)))
		}
	}

	return actions
}

// History returns the recent active counts of a device, oldest first.
func (p *Staged) History(device string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.history[device]
	if !ok {
		return nil
	}

	return r.values()
}

// activeCount counts active stages; any missing stage reading voids the count.
func (*Staged) activeCount(in Input, d *shed.Device) (int, bool) {
	stages := registry.Stages(d)
	if len(stages) == 0 {
		return 0, false
	}

	count := 0

	for _, role := range stages {
		v, ok := in.Readings.Value(d.Name, role)
		if !ok {
			return 0, false
		}

		active, binary := v.IsActive()
		if !binary {
			return 0, false
		}

		if active {
			count++
		}
	}

	return count, true
}

// record appends count to the device ring.
func (p *Staged) record(device string, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.history[device]
	if !ok {
		r = newRing(p.size)
		p.history[device] = r
	}

	r.push(count)
}

// ring is a fixed-size buffer of ints that overwrites the oldest value.
type ring struct {
	buf  []int
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]int, size)}
}

func (r *ring) push(v int) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)

	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) values() []int {
	if !r.full {
		return append([]int(nil), r.buf[:r.next]...)
	}

	out := make([]int, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)

	return append(out, r.buf[:r.next]...)
}
