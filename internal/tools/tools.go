// Package tools holds the UI tool definitions advertised to the model and
// the server-side gating that runs before a tool result is produced. The
// tools themselves render client-side; the server validates arguments and
// license entitlements, then echoes a directive envelope for the UI.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lightloop/chat-service/internal/identity"
	"github.com/lightloop/chat-service/internal/llm"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
)

// Handler validates a tool's arguments and produces its result payload.
type Handler func(ctx context.Context, id *identity.Identity, args json.RawMessage) (any, error)

// Definition is one registered tool.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	// RequiredOrgLicense gates the tool behind an org entitlement. Org
	// owners and admins bypass the check.
	RequiredOrgLicense string
	Handler            Handler
}

// Registry resolves tool calls coming back from the model.
type Registry struct {
	store registrystore.ChatStore
	defs  []Definition
	byKey map[string]*Definition
}

func NewRegistry(store registrystore.ChatStore) *Registry {
	r := &Registry{store: store, byKey: map[string]*Definition{}}
	for _, def := range builtins() {
		r.register(def)
	}
	return r
}

func (r *Registry) register(def Definition) {
	r.defs = append(r.defs, def)
	r.byKey[def.Name] = &r.defs[len(r.defs)-1]
}

// Definitions returns the tool list advertised on completion requests.
func (r *Registry) Definitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

// Execute runs one tool call and returns the JSON result fed back to the
// model as a tool message. Gating and validation failures are reported as
// error payloads rather than failing the whole turn, so the model can
// recover by telling the user what went wrong.
func (r *Registry) Execute(ctx context.Context, id *identity.Identity, call llm.ToolCall) string {
	def, ok := r.byKey[call.Function.Name]
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool %q", call.Function.Name))
	}

	if def.RequiredOrgLicense != "" {
		allowed, err := r.licensed(ctx, id, def.RequiredOrgLicense)
		if err != nil {
			return errorPayload("entitlement check failed")
		}
		if !allowed {
			return errorPayload(fmt.Sprintf("this workspace is not licensed for %s", def.Name))
		}
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := def.Handler(ctx, id, args)
	if err != nil {
		return errorPayload(err.Error())
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return errorPayload("tool produced an unencodable result")
	}
	return string(encoded)
}

func (r *Registry) licensed(ctx context.Context, id *identity.Identity, license string) (bool, error) {
	if id.Org == nil {
		return false, nil
	}
	if isOrgAdmin(id.OrgRole) {
		return true, nil
	}
	return r.store.HasOrgLicense(ctx, id.Org.ID, license)
}

func isOrgAdmin(role string) bool {
	return role == "org:owner" || role == "org:admin"
}

func errorPayload(msg string) string {
	encoded, _ := json.Marshal(map[string]string{"error": msg})
	return string(encoded)
}
