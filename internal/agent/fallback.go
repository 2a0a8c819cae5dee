package agent

import (
	"context"
	"regexp"
	"strings"

	modelcatalog "github.com/haasonsaas/nexus/internal/modelcatalog"
	"github.com/haasonsaas/nexus/pkg/models"
)

// FallbackConfig maps a capability this core cannot itself provide to the
// model that should be used instead, and names the provider that owns each
// fallback model's credential.
type FallbackConfig struct {
	// VisionFallbackModel is the model ID to switch to when the active
	// model lacks vision and the turn's most recent user message carries an
	// image.
	VisionFallbackModel string

	// VisionFallbackProvider names the provider VisionFallbackModel belongs
	// to, for credential resolution.
	VisionFallbackProvider string
}

// DefaultFallbackConfig returns a sensible default pointing at a
// vision-capable Anthropic model.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		VisionFallbackModel:    "claude-opus-4-20250514",
		VisionFallbackProvider: string(modelcatalog.ProviderAnthropic),
	}
}

// FallbackDecision is what the Router decided for one inference call:
// whether to switch models, whether tools must be disabled on the
// substitute, and whether images had to be stripped from the outgoing
// messages because no usable vision path was found.
type FallbackDecision struct {
	Model          string // empty if no switch is needed
	Provider       string
	Reason         string
	StripImages    bool
	DisableTools   bool
	SystemOverride string
}

// annotateToolRe matches user requests that explicitly demand a
// tool-performed operation on an image (annotate/draw/box/crop/etc).
// When present, the Router prefers stripping images over falling back to a
// vision model, since only the primary tool-capable model can actually
// dispatch the tool the user asked for.
var annotateToolRe = regexp.MustCompile(`(?i)\b(annotate|draw|box|crop|edit|overlay|highlight)\b.*\b(image|photo|picture|screenshot)\b`)

// Router decides, per inference call, whether the active model needs a
// capability it lacks and what to do about it (§4.6).
type Router struct {
	config   FallbackConfig
	resolver APIKeyResolver
}

// NewRouter creates a Router. resolver may be nil, in which case every
// fallback attempt is treated as a credential failure.
func NewRouter(config FallbackConfig, resolver APIKeyResolver) *Router {
	return &Router{config: config, resolver: resolver}
}

// Decide inspects the active model's capabilities against the outgoing
// request and the user's most recent message, returning the adjustment (if
// any) the caller must apply before sending req to the provider.
func (r *Router) Decide(ctx context.Context, active Model, lastUserText string, messages []CompletionMessage) FallbackDecision {
	if !requiresVision(messages) || active.SupportsVision {
		return FallbackDecision{}
	}

	if annotateToolRe.MatchString(lastUserText) {
		// The user wants a tool to act on the image; a vision-only fallback
		// model can describe it but not dispatch the tool. Strip the image
		// instead so the primary tool-capable model proceeds without it.
		return FallbackDecision{StripImages: true, Reason: "tool_requires_primary_model"}
	}

	fallback, ok := modelcatalog.Get(r.config.VisionFallbackModel)
	if !ok {
		return FallbackDecision{StripImages: true, Reason: "no_fallback_model_configured"}
	}

	if r.resolver != nil {
		if _, err := r.resolver(ctx, r.config.VisionFallbackProvider); err != nil {
			return FallbackDecision{StripImages: true, Reason: "credential_unavailable"}
		}
	} else {
		return FallbackDecision{StripImages: true, Reason: "credential_unavailable"}
	}

	decision := FallbackDecision{
		Model:    fallback.ID,
		Provider: r.config.VisionFallbackProvider,
		Reason:   "vision_required",
	}
	if !fallback.SupportsTools() {
		decision.DisableTools = true
		decision.SystemOverride = "You can see the attached image but have no tools available. Describe what you observe; do not claim to have performed an action."
	}
	return decision
}

// requiresVision reports whether any message carries image content.
func requiresVision(messages []CompletionMessage) bool {
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Kind == models.ContentKindImage {
				return true
			}
		}
	}
	return false
}

// StripImages returns a copy of messages with every image content part
// removed, leaving text parts intact.
func StripImages(messages []CompletionMessage) []CompletionMessage {
	out := make([]CompletionMessage, len(messages))
	for i, m := range messages {
		if len(m.Parts) == 0 {
			out[i] = m
			continue
		}
		filtered := make([]models.ContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Kind != models.ContentKindImage {
				filtered = append(filtered, p)
			}
		}
		m.Parts = filtered
		out[i] = m
	}
	return out
}

// lastUserMessageText finds the most recent user message's plain text, used
// by Decide's heuristic override check.
func lastUserMessageText(messages []CompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			if messages[i].Content != "" {
				return messages[i].Content
			}
			var sb strings.Builder
			for _, p := range messages[i].Parts {
				if p.Kind == models.ContentKindText {
					sb.WriteString(p.Text)
				}
			}
			return sb.String()
		}
	}
	return ""
}
