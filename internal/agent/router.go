package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ShayCichocki/mybrowse/internal/llm"
	"github.com/ShayCichocki/mybrowse/internal/logging"
)

const tracerName = "github.com/ShayCichocki/mybrowse/internal/agent"

// Decision is the router's choice for one task.
type Decision struct {
	Agent  string
	Reason string
	// Fallback is set when the default agent was chosen because classification failed.
	Fallback bool
}

// Router picks a registered agent for a task with one classification call.
// It never fails: any problem yields the registry's default agent.
type Router struct {
	registry   *Registry
	classifier llm.Classifier
	logger     *logging.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, classifier llm.Classifier, logger *logging.Logger) *Router {
	return &Router{
		registry:   registry,
		classifier: classifier,
		logger:     logger.With("component", "router"),
	}
}

// routeReply is the JSON object the classifier must return.
type routeReply struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// Route classifies task and returns the chosen agent name.
func (r *Router) Route(ctx context.Context, task string) Decision {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "router.route")
	defer span.End()

	d, err := r.route(ctx, task)
	if err != nil {
		d = Decision{Agent: r.fallbackName(), Reason: err.Error(), Fallback: true}
		span.RecordError(err)
		r.logger.Warn("routing failed, using default agent", "agent", d.Agent, "error", err)
	} else {
		r.logger.Debug("routed task", "agent", d.Agent, "reason", d.Reason)
	}
	span.SetAttributes(
		attribute.String("router.agent", d.Agent),
		attribute.Bool("router.fallback", d.Fallback),
	)
	return d
}

func (r *Router) route(ctx context.Context, task string) (Decision, error) {
	if r.classifier == nil {
		return Decision{}, errors.New("no classifier configured")
	}
	text, err := r.classifier.Classify(ctx, BuildRouterPrompt(r.registry.Descriptions()), task)
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}
	reply, err := parseRouteReply(text)
	if err != nil {
		return Decision{}, err
	}
	name := strings.ToLower(strings.TrimSpace(reply.Agent))
	if _, ok := r.registry.Get(name); !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAgent, reply.Agent)
	}
	return Decision{Agent: name, Reason: strings.TrimSpace(reply.Reason)}, nil
}

// fallbackName returns the default agent, or the first registered one when the
// default is missing from the registry.
func (r *Router) fallbackName() string {
	name := r.registry.Default()
	if _, ok := r.registry.Get(name); ok {
		return name
	}
	if names := r.registry.Names(); len(names) > 0 {
		return names[0]
	}
	return name
}

// BuildRouterPrompt renders the classification system prompt for the given agents.
func BuildRouterPrompt(agents []Description) string {
	var b strings.Builder
	b.WriteString("You are a task router for a multi-agent AI system called mybrowse.\n")
	b.WriteString("Pick the single best agent for the user's task.\n\n")
	b.WriteString("Available agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Always choose exactly ONE agent from the list.\n")
	b.WriteString("- Anything that needs browsing or the web goes to browser.\n")
	b.WriteString("- Questions, explanations, writing, calculations and summaries go to chat.\n")
	b.WriteString("- Saving, recalling or deleting memories goes to memory.\n")
	b.WriteString("- If unsure between browser and chat, prefer browser.\n\n")
	b.WriteString("Respond with ONLY valid JSON in this exact format:\n")
	b.WriteString(`{"agent": "<agent_name>", "reason": "<one sentence why>"}`)
	return b.String()
}

func parseRouteReply(text string) (routeReply, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return routeReply{}, err
	}
	var reply routeReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return routeReply{}, fmt.Errorf("decode route reply: %w", err)
	}
	if strings.TrimSpace(reply.Agent) == "" {
		return routeReply{}, errors.New("route reply has no agent")
	}
	return reply, nil
}

// extractJSONObject returns the span from the first '{' to the last '}'.
func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", errors.New("json object not found")
	}
	return text[start : end+1], nil
}
