package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/relay/runtime/relay/model"
)

type (
	// JudgeConfig configures a model-backed check.
	JudgeConfig struct {
		// Name is the check identifier.
		Name string
		// Model selects the provider model. Empty uses the client default.
		Model string
		// Instructions is the system prompt describing the verdict to produce.
		Instructions string
		// Schema is the JSON Schema the verdict object must satisfy.
		Schema json.RawMessage
		// Decide maps the validated verdict fields to accept or reject.
		Decide func(fields map[string]any) bool
		// Prompt renders the user message from the check input. Nil sends the
		// payload verbatim.
		Prompt func(in Input) string
	}

	// Judge implements Check by asking a model for a structured verdict. The
	// model call is treated as an external capability: transport and decoding
	// failures surface as errors, never as rejections.
	Judge struct {
		cfg    JudgeConfig
		client model.Client
		schema *jsonschema.Schema
	}
)

// ErrMalformedVerdict indicates the model returned a verdict that is not a JSON
// object satisfying the schema.
var ErrMalformedVerdict = errors.New("malformed guardrail verdict")

// NewJudge compiles the verdict schema and returns the check.
func NewJudge(client model.Client, cfg JudgeConfig) (*Judge, error) {
	if cfg.Name == "" {
		return nil, errors.New("judge name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("judge %s: model client is required", cfg.Name)
	}
	if cfg.Decide == nil {
		return nil, fmt.Errorf("judge %s: decide function is required", cfg.Name)
	}
	j := &Judge{cfg: cfg, client: client}
	if len(cfg.Schema) > 0 {
		var doc any
		if err := json.Unmarshal(cfg.Schema, &doc); err != nil {
			return nil, fmt.Errorf("judge %s: unmarshal schema: %w", cfg.Name, err)
		}
		c := jsonschema.NewCompiler()
		url := cfg.Name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("judge %s: add schema resource: %w", cfg.Name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("judge %s: compile schema: %w", cfg.Name, err)
		}
		j.schema = s
	}
	return j, nil
}

// Name implements Check.
func (j *Judge) Name() string { return j.cfg.Name }

// Check implements Check.
func (j *Judge) Check(ctx context.Context, in Input) (Verdict, error) {
	prompt := in.Payload
	if j.cfg.Prompt != nil {
		prompt = j.cfg.Prompt(in)
	}
	resp, err := j.client.Complete(ctx, model.Request{
		Model:    j.cfg.Model,
		System:   j.cfg.Instructions,
		Messages: []model.Message{{Role: model.RoleUser, Content: prompt}},
		JSON:     true,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge %s: %w", j.cfg.Name, err)
	}
	fields, err := j.decode(resp.Text)
	if err != nil {
		return Verdict{}, err
	}
	reasoning, _ := fields["reasoning"].(string)
	return Verdict{Accept: j.cfg.Decide(fields), Reasoning: reasoning, Fields: fields}, nil
}

func (j *Judge) decode(text string) (map[string]any, error) {
	raw := stripFence(text)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedVerdict, j.cfg.Name, err)
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected a JSON object", ErrMalformedVerdict, j.cfg.Name)
	}
	if j.schema != nil {
		if err := j.schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedVerdict, j.cfg.Name, err)
		}
	}
	return fields, nil
}

// stripFence removes a surrounding Markdown code fence some models add around
// JSON answers.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// BoolField returns the boolean field k, false when absent.
func BoolField(fields map[string]any, k string) bool {
	b, _ := fields[k].(bool)
	return b
}
