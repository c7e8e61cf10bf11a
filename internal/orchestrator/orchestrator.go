// Package orchestrator runs the probe/classify/reconcile cycle over every
// configured zone/hostname pair.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wardendns.io/internal/cloudflare"
	"wardendns.io/internal/config"
	"wardendns.io/internal/logging"
	"wardendns.io/internal/models"
	"wardendns.io/internal/notify"
	"wardendns.io/internal/plan"
	"wardendns.io/internal/probe"
	"wardendns.io/internal/storage"
)

// Provider is the DNS provider surface the orchestrator drives
type Provider interface {
	ListRecords(ctx context.Context, zoneID, name, recordType string) ([]models.ProviderRecord, error)
	CreateRecord(ctx context.Context, zoneID, name, recordType, content string, ttl int, proxied bool) (*models.ProviderRecord, error)
	UpdateRecord(ctx context.Context, zoneID, recordID string, patch cloudflare.RecordPatch) (*models.ProviderRecord, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}

// Orchestrator drives probe cycles and DNS reconciliation. Store failures
// are fatal and returned; provider failures are isolated to the hostname
// that hit them.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	provider Provider
	prober   probe.Prober
	notifier notify.Notifier

	cyclesSinceSync int
}

// New creates an orchestrator
func New(cfg *config.Config, store storage.Store, provider Provider, prober probe.Prober, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		provider: provider,
		prober:   prober,
		notifier: notifier,
	}
}

// Run executes the startup sync, a notification-suppressed first cycle
// followed by one status summary, then loops until the context is
// cancelled. The first cycle is silent because initial classifications of
// cold state would otherwise flood the notifier with non-events.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Sync(ctx); err != nil {
		return err
	}

	if err := o.runCycle(ctx, true); err != nil {
		return err
	}
	o.sendSummary(ctx)

	for {
		if err := o.sleep(ctx); err != nil {
			return nil // graceful shutdown
		}

		if err := o.runCycle(ctx, false); err != nil {
			return err
		}

		o.cyclesSinceSync++
		if o.cyclesSinceSync >= o.cfg.SyncEveryCycles() {
			logging.Info("orchestrator", "resyncing provider inventory")
			if err := o.Sync(ctx); err != nil {
				return err
			}
			o.cyclesSinceSync = 0
		}
	}
}

// RunOnce performs a single sync + cycle + summary and returns
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.Sync(ctx); err != nil {
		return err
	}
	if err := o.runCycle(ctx, true); err != nil {
		return err
	}
	o.sendSummary(ctx)
	return nil
}

// sleep waits for the probe interval, checking for cancellation at 1s
// granularity so shutdown never blocks on a long interval.
func (o *Orchestrator) sleep(ctx context.Context) error {
	remaining := o.cfg.ProbeInterval
	for remaining > 0 {
		step := time.Second
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		remaining -= step
	}
	return nil
}

// Sync pulls the provider's record inventory into local storage for every
// configured target. Provider failures are logged and skipped; only storage
// failures propagate.
func (o *Orchestrator) Sync(ctx context.Context) error {
	for _, target := range o.cfg.Targets {
		for _, recordType := range o.cfg.RecordTypes {
			live, err := o.provider.ListRecords(ctx, target.ZoneID, target.Hostname, recordType)
			if errors.Is(err, cloudflare.ErrZoneAccess) {
				logging.LogZoneAccessDenied(target.ZoneID, target.Hostname)
				break // token lacks the whole zone, other types will 403 too
			}
			if err != nil {
				logging.LogProviderError(target.ZoneID, target.Hostname, err)
				continue
			}

			liveIDs := make(map[string]bool, len(live))
			liveAddrs := make(map[string]bool, len(live))
			for i := range live {
				rec := live[i].Local(target.ZoneID)
				if err := o.store.UpsertRecord(ctx, rec); err != nil {
					return fmt.Errorf("state store: %w", err)
				}
				liveIDs[live[i].ID] = true
				liveAddrs[live[i].Content] = true
			}

			if err := o.pruneSuperseded(ctx, target, recordType, liveIDs, liveAddrs); err != nil {
				return err
			}
		}
	}
	return nil
}

// pruneSuperseded drops local mirror rows whose provider record is gone but
// whose address is already covered by a live row, so re-created records do
// not accumulate stale duplicates. Rows for addresses with no live record
// are kept: those addresses must stay probed so they can be re-added when
// they recover.
func (o *Orchestrator) pruneSuperseded(ctx context.Context, target config.Target, recordType string, liveIDs, liveAddrs map[string]bool) error {
	locals, err := o.store.RecordsForHost(ctx, target.Hostname, []string{recordType})
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	for _, rec := range locals {
		if rec.ZoneID != target.ZoneID {
			continue
		}
		if !liveIDs[rec.ID] && liveAddrs[rec.Content] {
			if err := o.store.DeleteRecordByID(ctx, rec.ID); err != nil {
				return fmt.Errorf("state store: %w", err)
			}
		}
	}
	return nil
}

// runCycle probes and reconciles every configured target once
func (o *Orchestrator) runCycle(ctx context.Context, suppress bool) error {
	for _, target := range o.cfg.Targets {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := o.reconcileTarget(ctx, target, suppress); err != nil {
			return err
		}
	}
	return nil
}

// reconcileTarget runs the full probe/classify/reconcile pass for one
// zone/hostname pair. Returned errors are storage failures only.
func (o *Orchestrator) reconcileTarget(ctx context.Context, target config.Target, suppress bool) error {
	records, err := o.store.RecordsForHost(ctx, target.Hostname, o.cfg.RecordTypes)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	if len(records) == 0 {
		logging.Warn("orchestrator", "no local records for hostname", "hostname", target.Hostname)
	}

	// Dedupe by address: each unique address is probed once and its state
	// advanced once per cycle, no matter how many mirror rows share it.
	byAddress := make(map[string]*models.LocalRecord)
	related := make(map[string][]*models.LocalRecord)
	var addresses []string
	for _, rec := range records {
		if _, seen := byAddress[rec.Content]; !seen {
			byAddress[rec.Content] = rec
			addresses = append(addresses, rec.Content)
		}
		related[rec.Content] = append(related[rec.Content], rec)
	}

	results := o.probeAll(ctx, target.Hostname, addresses)

	for _, addr := range addresses {
		observed := results[addr]

		for _, rec := range related[addr] {
			if rec.Status != observed || rec.LastCheckedAt == nil {
				if err := o.store.UpdateRecordStatus(ctx, rec.ID, observed); err != nil {
					return fmt.Errorf("state store: %w", err)
				}
			}
		}

		key := models.NewEndpoint(target.ZoneID, target.Hostname, byAddress[addr].Type, addr)
		transition, err := o.store.UpsertState(ctx, key, observed)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}

		if transition.Changed() {
			logging.LogTransition(target.Hostname, addr, transition.Prev.String(), transition.New.String())
			if !suppress && transition.Notifiable(o.cfg.Flap.NotifyOnFirst) {
				o.notifier.NotifyTransition(ctx, transition)
			}
		}
	}

	if !o.cfg.ManageDNS {
		return nil
	}

	return o.reconcileDNS(ctx, target, byAddress)
}

// probeAll checks every address with bounded parallelism. Probers never
// error, so neither does this.
func (o *Orchestrator) probeAll(ctx context.Context, hostname string, addresses []string) map[string]models.Status {
	results := make(map[string]models.Status, len(addresses))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	concurrency := o.cfg.Probe.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			up, rtt := o.prober.Probe(gctx, addr)
			logging.LogProbe(hostname, addr, up, rtt)

			mu.Lock()
			results[addr] = models.StatusFromSample(up)
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

// reconcileDNS aligns the provider's record set for one hostname with the
// stable classification in host_states.
func (o *Orchestrator) reconcileDNS(ctx context.Context, target config.Target, locals map[string]*models.LocalRecord) error {
	live, err := o.provider.ListRecords(ctx, target.ZoneID, target.Hostname, "")
	if errors.Is(err, cloudflare.ErrZoneAccess) {
		logging.LogZoneAccessDenied(target.ZoneID, target.Hostname)
		return nil
	}
	if err != nil {
		logging.LogProviderError(target.ZoneID, target.Hostname, err)
		return nil
	}

	wanted := make(map[string]bool, len(o.cfg.RecordTypes))
	for _, t := range o.cfg.RecordTypes {
		wanted[strings.ToUpper(t)] = true
	}

	current := make(map[string]models.ProviderRecord)
	for _, rec := range live {
		if wanted[strings.ToUpper(rec.Type)] {
			current[rec.Content] = rec
		}
	}

	states, err := o.store.HostStates(ctx, target.ZoneID, target.Hostname)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	// States for record types outside the configured set are ignored: a
	// leftover AAAA state after narrowing the configured types to A must
	// not feed an IPv6 address into an A-record create.
	classification := make(map[string]models.Status, len(states))
	for _, state := range states {
		if !wanted[state.Key.Type] {
			continue
		}
		classification[state.Key.Address] = state.StableStatus
	}

	edits := plan.Compute(target.Hostname, current, classification, plan.Options{
		Locals:         locals,
		ProxiedDefault: o.cfg.ProxiedDefault,
		DefaultTTL:     1,
		DefaultType:    o.cfg.RecordTypes[0],
	})

	logging.LogPlan(target.Hostname, len(edits.Creates), len(edits.Deletes), len(edits.Updates))
	if edits.Empty() {
		return nil
	}

	for _, c := range edits.Creates {
		created, err := o.provider.CreateRecord(ctx, target.ZoneID, c.Name, c.Type, c.Address, c.TTL, c.Proxied)
		if err != nil {
			logging.LogProviderError(target.ZoneID, target.Hostname, err)
			return nil
		}
		if err := o.store.UpsertRecord(ctx, created.Local(target.ZoneID)); err != nil {
			return fmt.Errorf("state store: %w", err)
		}
	}

	for _, d := range edits.Deletes {
		if err := o.provider.DeleteRecord(ctx, target.ZoneID, d.RecordID); err != nil {
			logging.LogProviderError(target.ZoneID, target.Hostname, err)
			return nil
		}
		// The local mirror row stays put: the address keeps being probed so
		// it can be re-added once it recovers.
	}

	for _, u := range edits.Updates {
		proxied := u.Proxied
		_, err := o.provider.UpdateRecord(ctx, target.ZoneID, u.RecordID, cloudflare.RecordPatch{Proxied: &proxied})
		if err != nil {
			logging.LogProviderError(target.ZoneID, target.Hostname, err)
			return nil
		}
	}

	return nil
}

// sendSummary delivers one status overview covering every target. Targets
// with no host state yet fall back to the raw record statuses.
func (o *Orchestrator) sendSummary(ctx context.Context) {
	var all []*models.HostState

	for _, target := range o.cfg.Targets {
		states, err := o.store.HostStates(ctx, target.ZoneID, target.Hostname)
		if err != nil {
			logging.Error("orchestrator", "failed to load host states for summary", err, "hostname", target.Hostname)
			continue
		}

		if len(states) == 0 {
			records, err := o.store.RecordsForHost(ctx, target.Hostname, o.cfg.RecordTypes)
			if err != nil {
				continue
			}
			for _, rec := range records {
				states = append(states, &models.HostState{
					Key:          models.NewEndpoint(rec.ZoneID, rec.Name, rec.Type, rec.Content),
					StableStatus: rec.Status,
				})
			}
		}

		all = append(all, states...)
	}

	o.notifier.NotifySummary(ctx, all)
}
