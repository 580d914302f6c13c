// internal/service/classify/gateway.go

package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"triage/internal/domain/correlation"
	"triage/internal/domain/incident"
	"triage/internal/domain/report"
)

// Config contains configuration for the classifier gateway
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Gateway talks to the external semantic classifier over HTTP. It holds
// no state between calls and performs no side effects; every transport or
// schema failure is surfaced as correlation.ErrClassifierUnavailable so
// the orchestrator can fall back instead of guessing.
type Gateway struct {
	config Config
	client *http.Client
	logger *logrus.Logger
}

// NewGateway creates a new classifier gateway
func NewGateway(config Config, logger *logrus.Logger) *Gateway {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Gateway{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

type reportPayload struct {
	ID                 string        `json:"id"`
	ExternalIncidentID string        `json:"external_incident_id,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
	Text               string        `json:"text"`
	Location           *report.Point `json:"location,omitempty"`
}

type candidatePayload struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Summary       string         `json:"summary"`
	Tags          []string       `json:"tags,omitempty"`
	Locations     []report.Point `json:"locations,omitempty"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	ReportCount   int            `json:"report_count"`
}

type decideRequest struct {
	Report     reportPayload      `json:"report"`
	Candidates []candidatePayload `json:"candidates"`
}

type decideResponse struct {
	Decision   string `json:"decision"`
	IncidentID string `json:"incident_id,omitempty"`
	Incident   *struct {
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Summary  string            `json:"summary"`
		Tags     []string          `json:"tags,omitempty"`
		Extra    map[string]string `json:"extra,omitempty"`
	} `json:"incident,omitempty"`
}

type groupRequest struct {
	Reports []reportPayload `json:"reports"`
}

type groupResponse struct {
	Groups [][]string `json:"groups"`
}

// Decide asks the classifier for a match-or-new verdict on a report
// against a small candidate list.
func (g *Gateway) Decide(ctx context.Context, rep report.Report, candidates []incident.Incident) (correlation.Decision, error) {
	if rep.ID == "" {
		return correlation.Decision{}, fmt.Errorf("%w: report has no id", correlation.ErrInvalidInput)
	}

	reqBody := decideRequest{
		Report:     toReportPayload(rep),
		Candidates: make([]candidatePayload, 0, len(candidates)),
	}
	for i := range candidates {
		reqBody.Candidates = append(reqBody.Candidates, toCandidatePayload(&candidates[i]))
	}

	var resp decideResponse
	if err := g.post(ctx, "/v1/decide", reqBody, &resp); err != nil {
		return correlation.Decision{}, err
	}

	switch resp.Decision {
	case "match":
		if resp.IncidentID == "" {
			return correlation.Decision{}, fmt.Errorf("%w: match decision without incident id", correlation.ErrClassifierUnavailable)
		}
		// The classifier may only choose among the candidates it was shown
		if !containsCandidate(candidates, resp.IncidentID) {
			return correlation.Decision{}, fmt.Errorf("%w: incident %s is not a candidate", correlation.ErrClassifierUnavailable, resp.IncidentID)
		}
		return correlation.Decision{
			Kind:       correlation.DecisionMatch,
			IncidentID: resp.IncidentID,
		}, nil

	case "new":
		decision := correlation.Decision{Kind: correlation.DecisionNew}
		if resp.Incident != nil {
			decision.Proposed = correlation.ProposedDetails{
				Name:     resp.Incident.Name,
				Category: resp.Incident.Category,
				Summary:  resp.Incident.Summary,
				Tags:     resp.Incident.Tags,
				Extra:    resp.Incident.Extra,
			}
		}
		return decision, nil

	default:
		return correlation.Decision{}, fmt.Errorf("%w: unknown decision %q", correlation.ErrClassifierUnavailable, resp.Decision)
	}
}

// GroupReports asks the classifier to partition a batch of reports into
// same-incident groups. The returned partition is raw; the grouping stage
// repairs coverage.
func (g *Gateway) GroupReports(ctx context.Context, reports []report.Report) ([]correlation.Group, error) {
	reqBody := groupRequest{Reports: make([]reportPayload, 0, len(reports))}
	for _, rep := range reports {
		if rep.ID == "" {
			return nil, fmt.Errorf("%w: report has no id", correlation.ErrInvalidInput)
		}
		reqBody.Reports = append(reqBody.Reports, toReportPayload(rep))
	}

	var resp groupResponse
	if err := g.post(ctx, "/v1/group", reqBody, &resp); err != nil {
		return nil, err
	}

	groups := make([]correlation.Group, 0, len(resp.Groups))
	for _, ids := range resp.Groups {
		if len(ids) == 0 {
			continue
		}
		groups = append(groups, correlation.Group{ReportIDs: ids})
	}
	return groups, nil
}

// post sends a JSON request and decodes the JSON response into out,
// stripping any markdown code fences the classifier wraps around its
// output.
func (g *Gateway) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("error marshaling classifier request: %w", err)
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", correlation.ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", correlation.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", correlation.ErrClassifierUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.WithFields(logrus.Fields{
			"component": "classifier_gateway",
			"status":    resp.StatusCode,
			"path":      path,
		}).Warn("Classifier returned non-2xx status")
		return fmt.Errorf("%w: status %d", correlation.ErrClassifierUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(stripFences(body), out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", correlation.ErrClassifierUnavailable, err)
	}
	return nil
}

// stripFences removes a leading ```json / trailing ``` wrapper, which
// LLM-backed classifiers are prone to emitting around JSON bodies.
func stripFences(body []byte) []byte {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return []byte(strings.TrimSpace(trimmed))
}

func toReportPayload(rep report.Report) reportPayload {
	return reportPayload{
		ID:                 rep.ID,
		ExternalIncidentID: rep.ExternalIncidentID,
		Timestamp:          rep.Timestamp,
		Text:               rep.Text,
		Location:           rep.Location,
	}
}

func toCandidatePayload(inc *incident.Incident) candidatePayload {
	return candidatePayload{
		ID:            inc.ID,
		Name:          inc.Name,
		Category:      inc.Category,
		Summary:       inc.Summary,
		Tags:          inc.Tags,
		Locations:     inc.Locations,
		LastUpdatedAt: inc.LastUpdatedAt,
		ReportCount:   inc.ReportCount,
	}
}

func containsCandidate(candidates []incident.Incident, id string) bool {
	for i := range candidates {
		if candidates[i].ID == id {
			return true
		}
	}
	return false
}
