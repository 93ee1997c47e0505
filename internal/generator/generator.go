package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cvtor/internal/metrics"
)

// SourceStub marks a payload built without any provider.
const SourceStub = "stub"

const (
	placeholderName    = "Prénom Nom"
	placeholderTitle   = "Candidat"
	placeholderSummary = "Professionnel(le) motivé(e) avec des résultats mesurables."

	messageNotConfigured = "AI provider not configured"
	messageGenerated     = "Contenu généré avec succès par l'IA"
	messageFailed        = "Impossible de générer avec l'IA: %s. Données d'exemple utilisées."
)

const systemPrompt = `Tu es un expert en rédaction de CV professionnel.
Génère un CV complet et professionnel en français au format JSON.
Le JSON doit contenir:
- profile: {name, title, contacts: {envelope: email, phone, map-marker-alt: location, linkedin}}
- summary: un résumé professionnel convaincant de 2-3 phrases
- experience: liste d'objets {company, role, start, end, bullets: [liste de réalisations]}
- education: liste d'objets {school, degree, year}
- skills: {groups: [{label, items: [liste de compétences]}]}

Retourne UNIQUEMENT le JSON, sans texte explicatif.`

var sections = []string{"profile", "summary", "experience", "education", "skills"}

// Provider is an external text generation backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Request carries the optional hints for one generation.
type Request struct {
	Prompt string         `json:"prompt"`
	Role   string         `json:"role"`
	Data   map[string]any `json:"data"`
}

// Result is always usable: Data holds either the generated document or the fallback.
type Result struct {
	Data    map[string]any `json:"data"`
	Source  string         `json:"source"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
}

// Generator fills resume documents through an optional Provider.
type Generator struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Generator. A nil provider makes every call return the fallback.
func New(provider Provider, timeout time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{provider: provider, timeout: timeout, logger: logger}
}

// Generate never fails; provider problems are reported inside the Result.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	fallback := Fallback(req)

	if g.provider == nil {
		metrics.ObserveGeneration(SourceStub)
		return Result{Data: fallback, Source: SourceStub, Message: messageNotConfigured}
	}

	generated, err := g.complete(ctx, req)
	if err != nil {
		g.logger.WarnContext(ctx, "generation failed, using fallback",
			slog.String("provider", g.provider.Name()),
			slog.Any("error", err),
		)
		metrics.ObserveGeneration(SourceStub)
		return Result{
			Data:    fallback,
			Source:  SourceStub,
			Message: fmt.Sprintf(messageFailed, err.Error()),
			Error:   err.Error(),
		}
	}

	metrics.ObserveGeneration(g.provider.Name())
	return Result{Data: Merge(generated, fallback), Source: g.provider.Name(), Message: messageGenerated}
}

func (g *Generator) complete(ctx context.Context, req Request) (map[string]any, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.provider.Complete(ctx, systemPrompt, userPrompt(req))
	if err != nil {
		return nil, err
	}

	body, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var generated map[string]any
	if err := json.Unmarshal([]byte(body), &generated); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if err := Validate(generated); err != nil {
		return nil, err
	}
	return generated, nil
}

func userPrompt(req Request) string {
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		return prompt
	}
	return "Poste visé: " + roleOrDefault(req.Role)
}

func roleOrDefault(role string) string {
	if role = strings.TrimSpace(role); role != "" {
		return role
	}
	return placeholderTitle
}

// Fallback builds the deterministic document from whatever the caller supplied.
func Fallback(req Request) map[string]any {
	base := req.Data
	out := map[string]any{
		"profile":    map[string]any{"name": placeholderName, "title": roleOrDefault(req.Role)},
		"summary":    placeholderSummary,
		"experience": []any{},
		"education":  []any{},
		"skills":     map[string]any{"groups": []any{}},
	}
	for _, key := range sections {
		if value, ok := base[key]; ok && present(value) {
			out[key] = value
		}
	}
	return out
}

// Merge takes each section from generated when present, otherwise from fallback.
func Merge(generated, fallback map[string]any) map[string]any {
	out := make(map[string]any, len(sections))
	for _, key := range sections {
		if value, ok := generated[key]; ok && value != nil {
			out[key] = value
			continue
		}
		out[key] = fallback[key]
	}
	return out
}

func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// ErrNoJSON is returned when a provider response holds no JSON object.
var ErrNoJSON = errors.New("provider response contains no JSON object")

// ExtractJSON returns the outermost {...} span of raw.
func ExtractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return raw[start : end+1], nil
}
