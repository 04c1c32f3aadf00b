package settlement

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a provider payout status normalised to the ledger's vocabulary.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
)

// Provider translates the status strings of one payment provider.
type Provider interface {
	Name() string
	Normalize(raw string) (Status, error)
}

// StatusTable is a Provider backed by a fixed raw-status lookup.
type StatusTable struct {
	name     string
	statuses map[string]Status
}

// NewStatusTable builds a provider from raw status lists. Matching ignores case.
func NewStatusTable(name string, completed, failed, pending []string) StatusTable {
	statuses := make(map[string]Status, len(completed)+len(failed)+len(pending))
	for _, s := range completed {
		statuses[strings.ToLower(s)] = StatusCompleted
	}
	for _, s := range failed {
		statuses[strings.ToLower(s)] = StatusFailed
	}
	for _, s := range pending {
		statuses[strings.ToLower(s)] = StatusPending
	}
	return StatusTable{name: strings.ToLower(name), statuses: statuses}
}

// Name returns the provider identifier used in webhook paths.
func (p StatusTable) Name() string { return p.name }

// Normalize maps a raw provider status.
func (p StatusTable) Normalize(raw string) (Status, error) {
	status, ok := p.statuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("provider %s: unknown status %q", p.name, raw)
	}
	return status, nil
}

// Registry is the set of providers accepted by the webhook intake. It is
// built once and never modified.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by name. Duplicate names are rejected.
func NewRegistry(providers ...Provider) (*Registry, error) {
	index := make(map[string]Provider, len(providers))
	for _, p := range providers {
		name := strings.ToLower(p.Name())
		if name == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("provider %s registered twice", name)
		}
		index[name] = p
	}
	return &Registry{providers: index}, nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProviders returns the mobile money and card processors the service
// settles with.
func DefaultProviders() []Provider {
	return []Provider{
		NewStatusTable("mtn_momo", []string{"SUCCESSFUL"}, []string{"FAILED", "REJECTED", "TIMEOUT"}, []string{"PENDING"}),
		NewStatusTable("airtel_money", []string{"TS"}, []string{"TF", "TE"}, []string{"TIP", "TA"}),
		NewStatusTable("card", []string{"approved", "settled"}, []string{"declined", "reversed"}, []string{"processing"}),
	}
}
