// internal/plan/plan.go

// Package plan computes the minimal set of provider edits that aligns the
// live DNS record set for a hostname with the locally computed stable-status
// classification. Compute is pure; applying the result is the caller's job.
package plan

import (
	"sort"

	"wardendns.io/internal/models"
)

// Options carries the attributes used when creating or keeping records.
type Options struct {
	// Locals maps address -> locally known record, the source of TTL and
	// proxied attributes for creates and of the proxied target for keeps.
	Locals map[string]*models.LocalRecord

	// ProxiedDefault applies when no local record is known for an address.
	ProxiedDefault bool

	// DefaultTTL applies when no local record is known. The provider treats
	// 1 as "automatic".
	DefaultTTL int

	// DefaultType is the record type used for creates of addresses with no
	// locally known row.
	DefaultType string
}

// Create is an instruction to create one provider record.
type Create struct {
	Name    string
	Type    string
	Address string
	TTL     int
	Proxied bool
}

// Delete is an instruction to delete one provider record by its id.
type Delete struct {
	RecordID string
	Address  string
}

// Update is an instruction to flip the proxied attribute of a kept record.
type Update struct {
	RecordID string
	Address  string
	Proxied  bool
}

// Plan is an unordered edit plan. Instructions are independent and commute:
// partial application leaves a state the next cycle corrects.
type Plan struct {
	Creates []Create
	Deletes []Delete
	Updates []Update

	// Kept lists the addresses left in place, for logging.
	Kept []string
}

// Empty returns true when the plan contains no edits
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Deletes) == 0 && len(p.Updates) == 0
}

// Compute builds the edit plan for one hostname.
//
// Policy: with no classification at all the plan is empty; DNS is never
// mutated before any health data exists. Otherwise everything not stably
// down is kept, only stably up addresses are addable, and an address whose
// classification is unknown is never deleted. Outputs are sorted by address
// so the plan depends only on the contents of its inputs.
func Compute(hostname string, current map[string]models.ProviderRecord, classification map[string]models.Status, opts Options) Plan {
	var p Plan

	if len(classification) == 0 {
		for addr := range current {
			p.Kept = append(p.Kept, addr)
		}
		sort.Strings(p.Kept)
		return p
	}

	keep := make(map[string]struct{})
	addable := make(map[string]struct{})
	for addr, status := range classification {
		if status != models.StatusDown {
			keep[addr] = struct{}{}
		}
		if status == models.StatusUp {
			addable[addr] = struct{}{}
		}
	}

	desired := make(map[string]struct{})
	for addr := range keep {
		if _, exists := current[addr]; exists {
			desired[addr] = struct{}{}
		}
	}
	for addr := range addable {
		if _, exists := current[addr]; !exists {
			desired[addr] = struct{}{}
		}
	}

	for addr := range desired {
		rec, exists := current[addr]
		if !exists {
			p.Creates = append(p.Creates, newCreate(hostname, addr, opts))
			continue
		}

		p.Kept = append(p.Kept, addr)

		targetProxied := opts.ProxiedDefault
		if local, ok := opts.Locals[addr]; ok {
			targetProxied = local.Proxied
		}
		if rec.Proxied != targetProxied {
			p.Updates = append(p.Updates, Update{RecordID: rec.ID, Address: addr, Proxied: targetProxied})
		}
	}

	for addr, rec := range current {
		if _, wanted := desired[addr]; !wanted {
			p.Deletes = append(p.Deletes, Delete{RecordID: rec.ID, Address: addr})
		}
	}

	sort.Slice(p.Creates, func(i, j int) bool { return p.Creates[i].Address < p.Creates[j].Address })
	sort.Slice(p.Deletes, func(i, j int) bool { return p.Deletes[i].Address < p.Deletes[j].Address })
	sort.Slice(p.Updates, func(i, j int) bool { return p.Updates[i].Address < p.Updates[j].Address })
	sort.Strings(p.Kept)

	return p
}

// newCreate builds a create instruction from local attributes or defaults
func newCreate(hostname, addr string, opts Options) Create {
	c := Create{
		Name:    hostname,
		Type:    opts.DefaultType,
		Address: addr,
		TTL:     opts.DefaultTTL,
		Proxied: opts.ProxiedDefault,
	}
	if c.TTL <= 0 {
		c.TTL = 1
	}
	if local, ok := opts.Locals[addr]; ok {
		c.Type = local.Type
		c.Proxied = local.Proxied
		if local.TTL > 0 {
			c.TTL = local.TTL
		}
	}
	return c
}
