// SPDX-License-Identifier: MIT

package healthmon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
	"github.com/zonelift/zonelift/internal/zone"
)

// Score weights: freshness dominates, then credentials, then completeness.
const (
	freshnessWeight    = 50.0
	credentialWeight   = 30.0
	completenessWeight = 20.0

	// freshnessHorizonDays is the age at which the freshness component
	// bottoms out.
	freshnessHorizonDays = 14.0
	// bottleneckPenalty is subtracted from completeness per bottleneck.
	bottleneckPenalty = 5.0
)

// backgroundPriority marks services whose failures degrade the overall
// status to WARNING at most.
const backgroundPriority = 5

// Monitor evaluates pipeline health from the zones and the credential store.
type Monitor struct {
	cfg    config.Runtime
	layout *zone.Layout
	creds  *credstore.Store
	now    func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over the given layout and credential store.
func New(cfg config.Runtime, layout *zone.Layout, creds *credstore.Store, opts ...Option) *Monitor {
	m := &Monitor{cfg: cfg, layout: layout, creds: creds, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check evaluates every known service and assembles a snapshot. Known means
// declared in config or present in any zone.
func (m *Monitor) Check(ctx context.Context) (Snapshot, error) {
	logger := log.WithComponentFromContext(ctx, "healthmon")
	snap := Snapshot{TakenAt: m.now(), Overall: StatusHealthy}

	services, err := m.knownServices()
	if err != nil {
		return snap, err
	}

	for _, service := range services {
		if ctx.Err() != nil {
			return snap, ctx.Err()
		}
		sh, actions, err := m.checkService(service)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "healthmon.service_check_failed").
				Str("pipeline_service", service).
				Msg("service health evaluation failed")
			sh = ServiceHealth{Service: service, Status: StatusFailed}
		}
		snap.Services = append(snap.Services, sh)
		snap.Actions = append(snap.Actions, actions...)
		metrics.SetHealthScore(service, sh.HealthScore)

		// Background services never degrade the overall status past WARNING.
		contribution := sh.Status
		if m.cfg.Policy(service).Priority > backgroundPriority && statusRank[contribution] > statusRank[StatusWarning] {
			contribution = StatusWarning
		}
		snap.Overall = worseOf(snap.Overall, contribution)
	}

	sortActions(snap.Actions)
	return snap, nil
}

// knownServices unions the configured services with every service directory
// present in any zone.
func (m *Monitor) knownServices() ([]string, error) {
	seen := map[string]bool{}
	for name := range m.cfg.Services {
		seen[name] = true
	}
	for _, z := range zone.All() {
		services, err := m.layout.Services(z)
		if err != nil {
			return nil, err
		}
		for _, s := range services {
			seen[s] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Monitor) checkService(service string) (ServiceHealth, []AutoAction, error) {
	policy := m.cfg.Policy(service)
	sh := ServiceHealth{
		Service:     service,
		Freshness:   map[zone.Zone]Freshness{},
		Credentials: map[string]credstore.Status{},
	}
	var actions []AutoAction

	newest := map[zone.Zone]time.Time{}
	for _, z := range zone.All() {
		files, err := m.layout.ListFilesRecursive(z, service, "")
		if err != nil {
			return sh, nil, err
		}
		latest := newestTime(files)
		newest[z] = latest
		fresh := Freshness{Files: len(files)}
		if !latest.IsZero() {
			fresh.LatestLogicalTime = latest
			fresh.AgeDays = m.now().Sub(latest).Hours() / 24
		}
		sh.Freshness[z] = fresh
	}

	// Only declared services carry a credential expectation; a service known
	// solely from its zone directories needs none.
	if _, declared := m.cfg.Services[service]; declared {
		actions = append(actions, m.checkCredentials(service, policy, &sh)...)
	}
	actions = append(actions, m.checkBottlenecks(service, newest, &sh)...)

	if sh.Freshness[zone.Landing].Files == 0 && sh.Freshness[zone.Raw].Files == 0 {
		sh.Recommendations = append(sh.Recommendations,
			fmt.Sprintf("no harvested data for %s yet, run its extractors", service))
		actions = append(actions, AutoAction{
			Type: ActionRunExtractor, Service: service, Priority: PriorityMedium,
			Reason: "no data in landing or raw",
		})
	}

	sh.HealthScore = m.score(sh, newest)
	sh.Status = statusForScore(sh.HealthScore)
	return sh, actions, nil
}

// checkCredentials folds every account's status into the health slice and
// proposes refreshes.
func (m *Monitor) checkCredentials(service string, policy config.ServicePolicy, sh *ServiceHealth) []AutoAction {
	var actions []AutoAction
	for _, account := range policy.EffectiveAccounts() {
		status := m.creds.StatusFor(service, account, policy)
		sh.Credentials[account] = status
		metrics.SetCredentialStatus(service, account, credentialGauge(status))

		switch status {
		case credstore.StatusExpired:
			sh.Recommendations = append(sh.Recommendations,
				fmt.Sprintf("credentials for %s/%s are expired, refresh them", service, account))
			actions = append(actions, AutoAction{
				Type: ActionCookieRefresh, Service: service, Account: account,
				Priority: PriorityHigh, Reason: "credentials expired",
			})
		case credstore.StatusExpiringSoon:
			sh.Recommendations = append(sh.Recommendations,
				fmt.Sprintf("credentials for %s/%s expire soon", service, account))
			actions = append(actions, AutoAction{
				Type: ActionCookieRefresh, Service: service, Account: account,
				Priority: PriorityMedium, Reason: "credentials expiring soon",
			})
		}
	}
	return actions
}

// checkBottlenecks applies the ordered stall rules over the zone timelines.
func (m *Monitor) checkBottlenecks(service string, newest map[zone.Zone]time.Time, sh *ServiceHealth) []AutoAction {
	var actions []AutoAction
	addBottleneck := func(reason string, priority Priority) {
		sh.Bottlenecks = append(sh.Bottlenecks, reason)
		sh.Recommendations = append(sh.Recommendations,
			fmt.Sprintf("run cleaners for %s: %s", service, reason))
		actions = append(actions, AutoAction{
			Type: ActionRunCleaners, Service: service, Priority: priority, Reason: reason,
		})
	}

	// Landing leading raw by up to one promotion cycle is normal churn
	// between scheduler ticks, not a stall.
	if after(newest[zone.Landing], newest[zone.Raw].Add(m.cfg.ScheduleEvery)) {
		addBottleneck("landing newer than raw", PriorityMedium)
	}
	if after(newest[zone.Raw], newest[zone.Staging]) {
		addBottleneck("raw newer than staging", PriorityMedium)
	}
	if sh.Freshness[zone.Staging].Files > 0 && sh.Freshness[zone.Curated].Files == 0 {
		addBottleneck("staging present but curated missing", PriorityHigh)
	}
	if mismatch := m.rawSubpathMismatch(service, newest[zone.Raw], newest[zone.Staging]); mismatch != "" {
		addBottleneck(mismatch, PriorityMedium)
	}
	return actions
}

// rawSubpathMismatch detects newer files in an alternate raw subpath that
// downstream has not consumed. A staging zone current with the recursive raw
// newest proves the subpath is being picked up, so nothing is flagged.
func (m *Monitor) rawSubpathMismatch(service string, newestRaw, newestStaging time.Time) string {
	if !after(newestRaw, newestStaging) {
		return ""
	}
	flat, err := m.layout.ListFiles(zone.Raw, service, "")
	if err != nil {
		return ""
	}
	newestFlat := newestTime(flat)
	if newestFlat.Equal(newestRaw) || newestRaw.IsZero() {
		return ""
	}
	if after(newestRaw, newestFlat) {
		return "newer files in an alternate raw subpath are not being picked up"
	}
	return ""
}

// score composes freshness, credential validity, and completeness.
func (m *Monitor) score(sh ServiceHealth, newest map[zone.Zone]time.Time) float64 {
	// Freshness tracks the newest artifact downstream of landing.
	ref := newest[zone.Curated]
	if ref.IsZero() {
		ref = newest[zone.Raw]
	}
	freshness := 0.0
	if !ref.IsZero() {
		ageDays := m.now().Sub(ref).Hours() / 24
		freshness = freshnessWeight * (1 - ageDays/freshnessHorizonDays)
		if freshness < 0 {
			freshness = 0
		}
		if freshness > freshnessWeight {
			freshness = freshnessWeight
		}
	}

	// Full credential weight when the service expects no credentials.
	credentials := credentialWeight
	if len(sh.Credentials) > 0 {
		worstCred := credstore.StatusValid
		for _, status := range sh.Credentials {
			if credentialGauge(status) < credentialGauge(worstCred) {
				worstCred = status
			}
		}
		switch worstCred {
		case credstore.StatusValid:
			credentials = credentialWeight
		case credstore.StatusExpiringSoon:
			credentials = credentialWeight / 2
		default:
			credentials = 0
		}
	}

	completeness := completenessWeight - bottleneckPenalty*float64(len(sh.Bottlenecks))
	if completeness < 0 {
		completeness = 0
	}
	return freshness + credentials + completeness
}

func statusForScore(score float64) Status {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 55:
		return StatusWarning
	case score >= 30:
		return StatusCritical
	default:
		return StatusFailed
	}
}

// credentialGauge maps a status to the metric gauge value: 3 valid down to 0
// missing.
func credentialGauge(s credstore.Status) float64 {
	switch s {
	case credstore.StatusValid:
		return 3
	case credstore.StatusExpiringSoon:
		return 2
	case credstore.StatusExpired:
		return 1
	default:
		return 0
	}
}

func newestTime(files []zone.FileRecord) time.Time {
	var newest time.Time
	for _, f := range files {
		t := f.LogicalTime
		if t.IsZero() {
			t = f.ModTime
		}
		if t.After(newest) {
			newest = t
		}
	}
	return newest
}

func after(a, b time.Time) bool {
	return !a.IsZero() && a.After(b)
}

var priorityRank = map[Priority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

func sortActions(actions []AutoAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if priorityRank[actions[i].Priority] != priorityRank[actions[j].Priority] {
			return priorityRank[actions[i].Priority] < priorityRank[actions[j].Priority]
		}
		return actions[i].Service < actions[j].Service
	})
}
