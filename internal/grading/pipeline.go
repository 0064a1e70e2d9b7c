package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"github.com/ashureev/inkwell/internal/metrics"
)

// Completion is a single rubric call to a language model.
type Completion struct {
	System    string
	User      string
	MaxTokens int
}

// Completer sends a completion to a model and returns its raw text.
// Implementations return a *Failure when the kind of failure is known.
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// Layer is one stage of the grading pipeline.
type Layer struct {
	Name   string
	Weight float64
	Rubric string
}

// DefaultLayers returns the three stock layers in evaluation order.
func DefaultLayers() []Layer {
	return []Layer{
		{
			Name:   "mechanics",
			Weight: 0.25,
			Rubric: "Grade spelling, grammar, punctuation and sentence-level correctness.",
		},
		{
			Name:   "structure",
			Weight: 0.35,
			Rubric: "Grade organization, paragraphing, transitions and clarity of the argument's flow.",
		},
		{
			Name:   "content",
			Weight: 0.40,
			Rubric: "Grade how well the piece answers the prompt, the strength of its ideas and the use of supporting detail.",
		},
	}
}

const systemTemplate = `You are a writing instructor grading a student's response.
{{.Rubric}}
Reply with a single JSON object: {"score": <integer 0-100>, "feedback": "<two or three sentences>"}.
Do not include any other text.`

const userTemplate = `{{if .HasPrompt}}Prompt: {{.Title}}
{{.Body}}
{{- if .Selection}}
Chosen option: {{.Selection}}
{{- end}}
{{- else}}Open writing exercise with no assigned prompt. Grade the response on its own terms.
{{- end}}
{{- if .Previous}}

This is a revision. Feedback on the previous draft (scored {{printf "%.1f" .Previous.Result.Composite}}):
{{.Previous.Result.Feedback}}
{{- end}}

Student response:
{{.Text}}`

var (
	systemTmpl = template.Must(template.New("system").Parse(systemTemplate))
	userTmpl   = template.Must(template.New("user").Parse(userTemplate))
)

// Pipeline grades a draft by running each layer in order and combining the
// layer scores into a weighted composite.
type Pipeline struct {
	completer Completer
	layers    []Layer
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a pipeline over completer using layers. A nil or
// empty layers slice selects DefaultLayers.
func NewPipeline(completer Completer, layers []Layer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(layers) == 0 {
		layers = DefaultLayers()
	}
	return &Pipeline{
		completer: completer,
		layers:    layers,
		logger:    logger.With("component", "grading"),
		now:       time.Now,
	}
}

// Grade implements Grader.
func (p *Pipeline) Grade(ctx context.Context, req Request) (*domain.GradingResult, error) {
	if err := domain.ValidateContent(req.Text); err != nil {
		return nil, Fail(KindInvalidInput, err)
	}
	user, err := renderUser(req)
	if err != nil {
		return nil, Fail(KindInvalidInput, err)
	}

	result := &domain.GradingResult{Phases: make(map[string]domain.PhaseScore, len(p.layers))}
	var weighted, totalWeight float64
	lowest := ""

	for _, layer := range p.layers {
		score, err := p.runLayer(ctx, layer, user, req.Budget)
		if err != nil {
			err = Classify(ctx, err)
			kind, _ := KindOf(err)
			p.logger.Warn("Grading layer failed",
				"layer", layer.Name,
				"call_type", req.CallType,
				"kind", kind,
				"error", err)
			return nil, err
		}
		result.Phases[layer.Name] = score
		weighted += score.Score * layer.Weight
		totalWeight += layer.Weight
		if lowest == "" || score.Score < result.Phases[lowest].Score {
			lowest = layer.Name
		}
	}

	if totalWeight > 0 {
		result.Composite = math.Round(weighted/totalWeight*10) / 10
	}
	result.Feedback = result.Phases[lowest].Feedback
	result.GradedAt = p.now()

	p.logger.Info("Draft graded",
		"call_type", req.CallType,
		"composite", result.Composite,
		"layers", len(p.layers))
	return result, nil
}

func (p *Pipeline) runLayer(ctx context.Context, layer Layer, user string, budget int) (domain.PhaseScore, error) {
	var system strings.Builder
	if err := systemTmpl.Execute(&system, layer); err != nil {
		return domain.PhaseScore{}, Fail(KindInvalidInput, fmt.Errorf("render rubric: %w", err))
	}

	start := time.Now()
	raw, err := p.completer.Complete(ctx, Completion{
		System:    system.String(),
		User:      user,
		MaxTokens: budget,
	})
	if err != nil {
		metrics.ObserveGrading(layer.Name, "error", time.Since(start))
		return domain.PhaseScore{}, err
	}

	score, err := parseLayerResponse(raw)
	if err != nil {
		metrics.ObserveGrading(layer.Name, "unparseable", time.Since(start))
		p.logger.Debug("Unparseable layer response", "layer", layer.Name, "response", truncate(raw, 200))
		return domain.PhaseScore{}, Fail(KindModelError, err)
	}
	metrics.ObserveGrading(layer.Name, "ok", time.Since(start))
	return score, nil
}

func renderUser(req Request) (string, error) {
	data := struct {
		HasPrompt bool
		Title     string
		Body      string
		Selection string
		Previous  *domain.Attempt
		Text      string
	}{
		Selection: req.Selection,
		Text:      req.Text,
	}
	if req.Prompt != nil {
		data.HasPrompt = true
		data.Title = req.Prompt.Title
		data.Body = req.Prompt.Body
	}
	if req.Previous != nil && req.Previous.Result != nil {
		data.Previous = req.Previous
	}

	var b strings.Builder
	if err := userTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render grading request: %w", err)
	}
	return b.String(), nil
}

type layerResponse struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

func parseLayerResponse(raw string) (domain.PhaseScore, error) {
	var resp layerResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return domain.PhaseScore{}, fmt.Errorf("unmarshal layer response: %w", err)
	}
	if resp.Score == nil {
		return domain.PhaseScore{}, fmt.Errorf("layer response has no score")
	}
	score := math.Max(0, math.Min(100, *resp.Score))
	return domain.PhaseScore{Score: score, Feedback: strings.TrimSpace(resp.Feedback)}, nil
}

// extractJSON pulls the first balanced JSON object out of a model reply
// that may be wrapped in markdown fences or surrounded by prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j != -1 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
