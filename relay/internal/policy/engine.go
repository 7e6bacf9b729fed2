// Package policy evaluates admission rules for inbound chat events with OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/rego"
)

// ActionSendMessage is the only action currently checked by the relay.
const ActionSendMessage = "send_message"

// Input is the document the policy sees as `input`.
type Input struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role"`
	Text           string `json:"text"`
	TextLength     int    `json:"text_length"`
	MaxTextLength  int    `json:"max_text_length"`
}

// Decision is the outcome of an evaluation. Reasons lists every deny rule
// that matched, sorted.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Engine is the OPA policy engine.
type Engine struct {
	query         rego.PreparedEvalQuery
	maxTextLength int
}

// NewEngine creates a new policy engine with the given policy content.
// maxTextLength is passed to the policy with every send_message input.
func NewEngine(ctx context.Context, policyContent string, maxTextLength int) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.deny"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxTextLength: maxTextLength}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is
// empty.
func NewEngineFromFile(ctx context.Context, path string, maxTextLength int) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy, maxTextLength)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return NewEngine(ctx, string(content), maxTextLength)
}

// CheckSend evaluates a send_message event.
func (e *Engine) CheckSend(ctx context.Context, conversationID, senderRole, text string) (Decision, error) {
	return e.Evaluate(ctx, Input{
		Action:         ActionSendMessage,
		ConversationID: conversationID,
		SenderRole:     senderRole,
		Text:           text,
		TextLength:     utf8.RuneCountInString(text),
		MaxTextLength:  e.maxTextLength,
	})
}

// Evaluate runs the deny rules against input. No matching rule means allow.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	values, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		reasons = append(reasons, fmt.Sprint(v))
	}
	sort.Strings(reasons)

	return Decision{Allow: len(reasons) == 0, Reasons: reasons}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package chat_policy

valid_roles = {"seeker", "provider"}

deny[msg] {
	input.action == "send_message"
	input.max_text_length > 0
	input.text_length > input.max_text_length
	msg := sprintf("text exceeds %v characters", [input.max_text_length])
}

deny[msg] {
	input.action == "send_message"
	not valid_roles[input.sender_role]
	msg := "sender_role must be seeker or provider"
}
`
