// internal/service/correlate/engine.go

package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"triage/internal/domain/correlation"
	"triage/internal/domain/incident"
	"triage/internal/domain/report"
	"triage/internal/service/match"
)

// Config contains configuration for the correlation engine
type Config struct {
	CheckInterval       time.Duration
	ClassifierTimeout   time.Duration
	ClassifierEnabled   bool
	MaxConcurrentGroups int
	StorageRetries      int
	RetryBackoff        time.Duration
	DegradeAfter        int
	EventsTopic         string
	ActiveStatuses      []string
}

// Status describes the engine's runtime state
type Status struct {
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	Degraded    bool      `json:"degraded"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
}

// Engine is the correlation orchestrator. It runs a periodic cycle:
// fetch unlinked reports and active incidents, partition the batch into
// same-incident groups, then for each group filter candidates, obtain a
// match-or-new decision and commit it exactly once per report. Incident
// state is re-fetched every cycle so operator actions take effect on the
// next pass.
type Engine struct {
	reports    report.Store
	incidents  incident.Store
	classifier correlation.Classifier
	filter     *match.CandidateFilter
	scorer     *match.Scorer
	grouping   *GroupingStage
	eventBus   *nats.Conn
	config     Config
	logger     *logrus.Logger

	mu                 sync.Mutex
	enabled            bool
	running            bool
	degraded           bool
	probeAllowed       bool
	classifierFailures int
	lastCycleAt        time.Time

	incidentLocks sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new correlation engine
func NewEngine(
	reports report.Store,
	incidents incident.Store,
	classifier correlation.Classifier,
	filter *match.CandidateFilter,
	scorer *match.Scorer,
	eventBus *nats.Conn,
	config Config,
	logger *logrus.Logger,
) *Engine {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 15 * time.Second
	}
	if config.ClassifierTimeout <= 0 {
		config.ClassifierTimeout = 30 * time.Second
	}
	if config.MaxConcurrentGroups <= 0 {
		config.MaxConcurrentGroups = 4
	}
	if config.StorageRetries <= 0 {
		config.StorageRetries = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	if config.DegradeAfter <= 0 {
		config.DegradeAfter = 3
	}
	if config.EventsTopic == "" {
		config.EventsTopic = "incident"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		reports:    reports,
		incidents:  incidents,
		classifier: classifier,
		filter:     filter,
		scorer:     scorer,
		grouping:   NewGroupingStage(classifier, logger),
		eventBus:   eventBus,
		config:     config,
		logger:     logger,
		enabled:    true,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the periodic correlation loop
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()

	return nil
}

// Stop gracefully stops the engine
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()

	c := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(c)
	}()

	select {
	case <-c:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	return nil
}

// Enable turns correlation on at runtime and clears degraded state
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.degraded = false
	e.classifierFailures = 0
}

// Disable pauses correlation; the loop keeps ticking but cycles are
// skipped until Enable is called.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
}

// Status returns the engine's runtime state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Enabled:     e.enabled,
		Running:     e.running,
		Degraded:    e.degraded,
		LastCycleAt: e.lastCycleAt,
	}
}

// run drives the periodic correlation cycles
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.isEnabled() {
				e.RunCycle(e.ctx)
			}
		}
	}
}

// RunCycle performs one complete correlation pass. It is safe to call
// directly; the periodic loop uses it too.
func (e *Engine) RunCycle(ctx context.Context) {
	log := e.logger.WithField("component", "engine")

	// While degraded, each cycle grants the classifier a single probe
	// call; a success clears degradation.
	e.mu.Lock()
	e.probeAllowed = true
	e.mu.Unlock()

	var unlinked []report.Report
	err := e.retry(ctx, func() error {
		var err error
		unlinked, err = e.reports.ListUnlinked(ctx)
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to list unlinked reports, skipping cycle")
		return
	}

	if len(unlinked) == 0 {
		e.markCycleDone()
		return
	}

	// Re-fetch active incidents every cycle; operator closures must take
	// effect on the very next pass
	var active []incident.Incident
	err = e.retry(ctx, func() error {
		var err error
		active, err = e.incidents.ListActive(ctx, e.activeStatuses())
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to list active incidents, skipping cycle")
		return
	}

	log.WithFields(logrus.Fields{
		"unlinked": len(unlinked),
		"active":   len(active),
	}).Info("Starting correlation cycle")

	groups := e.partition(ctx, unlinked)

	byID := make(map[string]report.Report, len(unlinked))
	for _, rep := range unlinked {
		byID[rep.ID] = rep
	}

	sem := make(chan struct{}, e.config.MaxConcurrentGroups)
	var wg sync.WaitGroup

	for _, group := range groups {
		members := make([]report.Report, 0, len(group.ReportIDs))
		for _, id := range group.ReportIDs {
			if rep, ok := byID[id]; ok {
				members = append(members, rep)
			}
		}
		if len(members) == 0 {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(members []report.Report) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processGroup(ctx, members, active)
		}(members)
	}

	wg.Wait()
	e.markCycleDone()
}

// partition runs the grouping stage, or falls back to singleton groups
// when the classifier cannot be used.
func (e *Engine) partition(ctx context.Context, reports []report.Report) []correlation.Group {
	if len(reports) <= 1 || !e.classifierUsable() {
		return singletons(reports)
	}

	gctx, cancel := context.WithTimeout(ctx, e.config.ClassifierTimeout)
	defer cancel()

	return e.grouping.Partition(gctx, reports)
}

// processGroup correlates one group. The first report is the
// representative; every other member follows it into the same incident
// without further classification. A failure here leaves the group's
// reports unlinked and they are retried on the next cycle.
func (e *Engine) processGroup(ctx context.Context, members []report.Report, active []incident.Incident) {
	rep := members[0]

	log := e.logger.WithFields(logrus.Fields{
		"component":  "engine",
		"report_id":  rep.ID,
		"group_size": len(members),
	})

	candidates := e.filter.Filter(rep, active)

	var incidentID string
	var err error

	if len(candidates) == 0 {
		// Nothing plausibly related; the classifier is skipped entirely
		incidentID, err = e.createIncident(ctx, rep, correlation.ProposedDetails{})
	} else {
		incidentID, err = e.resolve(ctx, rep, candidates)
	}
	if err != nil {
		log.WithError(err).Error("Failed to resolve incident for group, deferring to next cycle")
		return
	}

	for _, member := range members {
		if err := e.commitLink(ctx, member, incidentID); err != nil {
			log.WithError(err).WithField("member_id", member.ID).Error("Failed to link report")
		}
	}
}

// resolve obtains a decision for a report with a non-empty candidate
// set: the classifier first, the deterministic scorer as fallback.
func (e *Engine) resolve(ctx context.Context, rep report.Report, candidates []incident.Incident) (string, error) {
	log := e.logger.WithFields(logrus.Fields{
		"component":  "engine",
		"report_id":  rep.ID,
		"candidates": len(candidates),
	})

	decision, err := e.decide(ctx, rep, candidates)
	if err == nil {
		switch decision.Kind {
		case correlation.DecisionMatch:
			log.WithField("incident_id", decision.IncidentID).Info("Classifier matched report to incident")
			return decision.IncidentID, nil
		default:
			return e.createIncident(ctx, rep, decision.Proposed)
		}
	}

	if !errors.Is(err, correlation.ErrClassifierUnavailable) {
		return "", err
	}

	// Deterministic fallback: best-scoring candidate above threshold,
	// else a new incident. The report must not stay unlinked because of
	// one slow or broken classifier call.
	id, confidence, reason := e.scorer.FindBestMatch(rep, candidates)
	if id != "" {
		log.WithFields(logrus.Fields{
			"incident_id": id,
			"confidence":  confidence,
			"reason":      reason,
		}).Info("Deterministic fallback matched report to incident")
		return id, nil
	}

	log.WithFields(logrus.Fields{
		"confidence": confidence,
		"reason":     reason,
	}).Info("Deterministic fallback found no match, creating incident")
	return e.createIncident(ctx, rep, correlation.ProposedDetails{})
}

// decide calls the classifier gateway with a hard timeout and tracks
// consecutive failures for degradation.
func (e *Engine) decide(ctx context.Context, rep report.Report, candidates []incident.Incident) (correlation.Decision, error) {
	if !e.classifierUsable() {
		return correlation.Decision{}, correlation.ErrClassifierUnavailable
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.ClassifierTimeout)
	defer cancel()

	decision, err := e.classifier.Decide(cctx, rep, candidates)
	if err != nil {
		e.recordClassifierFailure(err)
		return correlation.Decision{}, err
	}

	e.recordClassifierSuccess()
	return decision, nil
}

// createIncident opens a new incident for a report the system could not
// match, using classifier-proposed details when present and defaults
// derived from the report otherwise. Incident IDs are assigned here, not
// by the classifier.
func (e *Engine) createIncident(ctx context.Context, rep report.Report, proposed correlation.ProposedDetails) (string, error) {
	details := withDefaults(rep, proposed)

	now := time.Now().UTC()
	anchor := rep.Timestamp
	if anchor.IsZero() {
		anchor = now
	}

	inc := incident.Incident{
		ID:            uuid.New().String(),
		Name:          details.Name,
		Category:      details.Category,
		Summary:       details.Summary,
		Tags:          details.Tags,
		Status:        incident.StatusOpen,
		CreatedAt:     now,
		LastUpdatedAt: anchor,
		Metadata:      details.Extra,
	}

	err := e.retry(ctx, func() error {
		return e.incidents.Create(ctx, inc)
	})
	if err != nil {
		return "", fmt.Errorf("error creating incident: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"component":   "engine",
		"incident_id": inc.ID,
		"name":        inc.Name,
	}).Info("Created new incident")

	e.publishEvent("created", map[string]interface{}{
		"incident_id": inc.ID,
		"name":        inc.Name,
		"category":    inc.Category,
		"created_at":  inc.CreatedAt,
	})

	return inc.ID, nil
}

// commitLink attaches one report to an incident and updates the incident
// aggregate. Commits for the same incident are serialized so concurrent
// groups cannot interleave aggregate updates; the store's conditional
// write makes a duplicate link a no-op rather than an error.
func (e *Engine) commitLink(ctx context.Context, rep report.Report, incidentID string) error {
	if rep.LinkStatus == report.StatusLinked {
		return nil
	}

	lock := e.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	var alreadyLinked bool
	err := e.retry(ctx, func() error {
		err := e.reports.Link(ctx, rep.ID, incidentID)
		if errors.Is(err, report.ErrConflict) {
			alreadyLinked = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("error linking report %s: %w", rep.ID, err)
	}

	if alreadyLinked {
		e.logger.WithFields(logrus.Fields{
			"component": "engine",
			"report_id": rep.ID,
		}).Debug("Report already linked, treating commit as no-op")
		return nil
	}

	if rep.Location != nil {
		err := e.retry(ctx, func() error {
			return e.incidents.AppendLocation(ctx, incidentID, *rep.Location)
		})
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"component":   "engine",
				"incident_id": incidentID,
			}).Error("Failed to append location to incident")
		}
	}

	at := rep.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err = e.retry(ctx, func() error {
		return e.incidents.Touch(ctx, incidentID, at)
	})
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"component":   "engine",
			"incident_id": incidentID,
		}).Error("Failed to bump incident freshness")
	}

	e.publishEvent("report_linked", map[string]interface{}{
		"incident_id": incidentID,
		"report_id":   rep.ID,
		"linked_at":   time.Now().UTC(),
	})
	e.publishEvent("updated", map[string]interface{}{
		"incident_id":     incidentID,
		"last_updated_at": at,
	})

	return nil
}

// retry runs fn with capped, linearly growing backoff. Storage errors are
// treated as transient; the last error is returned once attempts are
// exhausted.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < e.config.StorageRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.config.RetryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func (e *Engine) isEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// classifierUsable reports whether the classifier should be called right
// now. While degraded, one probe call per cycle is allowed so the engine
// can recover without operator action.
func (e *Engine) classifierUsable() bool {
	if e.classifier == nil || !e.config.ClassifierEnabled {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.degraded {
		return true
	}
	if e.probeAllowed {
		e.probeAllowed = false
		return true
	}
	return false
}

func (e *Engine) recordClassifierFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.classifierFailures++
	if e.classifierFailures >= e.config.DegradeAfter && !e.degraded {
		e.degraded = true
		e.logger.WithError(err).WithFields(logrus.Fields{
			"component": "engine",
			"failures":  e.classifierFailures,
		}).Warn("Classifier degraded, correlating deterministically")
	}
}

func (e *Engine) recordClassifierSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		e.logger.WithField("component", "engine").Info("Classifier recovered")
	}
	e.classifierFailures = 0
	e.degraded = false
}

func (e *Engine) activeStatuses() []string {
	if len(e.config.ActiveStatuses) > 0 {
		return e.config.ActiveStatuses
	}
	return incident.DefaultActiveStatuses
}

// lockFor returns the commit mutex for an incident
func (e *Engine) lockFor(incidentID string) *sync.Mutex {
	lock, _ := e.incidentLocks.LoadOrStore(incidentID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// publishEvent publishes an engine event to the event bus
func (e *Engine) publishEvent(eventType string, payload map[string]interface{}) {
	if e.eventBus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).Error("Failed to marshal engine event")
		return
	}

	topic := fmt.Sprintf("%s.%s", e.config.EventsTopic, eventType)
	if err := e.eventBus.Publish(topic, data); err != nil {
		e.logger.WithError(err).WithField("topic", topic).Error("Failed to publish engine event")
	}
}

// markCycleDone records cycle completion for the status endpoint
func (e *Engine) markCycleDone() {
	e.mu.Lock()
	e.lastCycleAt = time.Now().UTC()
	e.mu.Unlock()
}

// withDefaults fills in any proposed details the classifier left empty
// using what the report itself offers.
func withDefaults(rep report.Report, proposed correlation.ProposedDetails) correlation.ProposedDetails {
	if proposed.Name == "" {
		proposed.Name = defaultName(rep.Text)
	}
	if proposed.Category == "" {
		proposed.Category = "uncategorized"
	}
	if proposed.Summary == "" {
		proposed.Summary = rep.Text
	}
	if len(proposed.Tags) == 0 && rep.Source != "" {
		proposed.Tags = []string{rep.Source}
	}
	return proposed
}

func defaultName(text string) string {
	name := strings.TrimSpace(text)
	if name == "" {
		return "Unclassified incident"
	}
	runes := []rune(name)
	if len(runes) > 80 {
		name = string(runes[:80])
	}
	if idx := strings.IndexAny(name, "\n\r"); idx > 0 {
		name = name[:idx]
	}
	return name
}
