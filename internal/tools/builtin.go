package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lightloop/chat-service/internal/identity"
)

// Org license names.
const (
	LicenseHireFree = "hire_free"
	LicenseHirePaid = "hire_paid"
)

// directive is the envelope the UI dispatches on. The model relays it to the
// client, which renders the corresponding widget.
type directive struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
}

func builtins() []Definition {
	return []Definition{
		{
			Name:               "showCandidates",
			Description:        "Display a list of matching candidates for a role. Use when the user asks to see, browse, or shortlist candidates.",
			RequiredOrgLicense: LicenseHirePaid,
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"role": {"type": "string", "description": "Job title or role to match candidates against"},
					"skills": {"type": "array", "items": {"type": "string"}, "description": "Required skills"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum candidates to show"}
				},
				"required": ["role"]
			}`),
			Handler: showCandidates,
		},
		{
			Name:        "salaryRange",
			Description: "Show a salary range estimate for a role. Use when the user asks about compensation or budgets.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"role": {"type": "string", "description": "Job title"},
					"location": {"type": "string", "description": "Location or 'remote'"},
					"seniority": {"type": "string", "enum": ["junior", "mid", "senior", "staff"], "description": "Experience level"}
				},
				"required": ["role"]
			}`),
			Handler: salaryRange,
		},
		{
			Name:        "quiz",
			Description: "Start a screening quiz for a skill or topic. Use when the user wants to assess a candidate.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"topic": {"type": "string", "description": "Skill or topic to quiz on"},
					"questionCount": {"type": "integer", "minimum": 1, "maximum": 20}
				},
				"required": ["topic"]
			}`),
			Handler: quiz,
		},
		{
			Name:        "setWorkspace",
			Description: "Switch the user's active workspace. Use only when the user explicitly asks to change workspaces.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"workspace": {"type": "string", "description": "Workspace name or id to switch to"}
				},
				"required": ["workspace"]
			}`),
			Handler: setWorkspace,
		},
		{
			Name:        "confirmAction",
			Description: "Ask the user to confirm a consequential action before it is taken, such as contacting a candidate or posting a job.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "description": "Short identifier of the action"},
					"summary": {"type": "string", "description": "Human-readable description shown to the user"}
				},
				"required": ["action", "summary"]
			}`),
			Handler: confirmAction,
		},
	}
}

func showCandidates(_ context.Context, _ *identity.Identity, args json.RawMessage) (any, error) {
	var params struct {
		Role   string   `json:"role"`
		Skills []string `json:"skills"`
		Limit  int      `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, errors.New("invalid showCandidates arguments")
	}
	if strings.TrimSpace(params.Role) == "" {
		return nil, errors.New("role is required")
	}
	if params.Limit <= 0 || params.Limit > 50 {
		params.Limit = 10
	}
	return directive{Action: "showCandidates", Params: params}, nil
}

func salaryRange(_ context.Context, _ *identity.Identity, args json.RawMessage) (any, error) {
	var params struct {
		Role      string `json:"role"`
		Location  string `json:"location"`
		Seniority string `json:"seniority"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, errors.New("invalid salaryRange arguments")
	}
	if strings.TrimSpace(params.Role) == "" {
		return nil, errors.New("role is required")
	}
	return directive{Action: "salaryRange", Params: params}, nil
}

func quiz(_ context.Context, _ *identity.Identity, args json.RawMessage) (any, error) {
	var params struct {
		Topic         string `json:"topic"`
		QuestionCount int    `json:"questionCount"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, errors.New("invalid quiz arguments")
	}
	if strings.TrimSpace(params.Topic) == "" {
		return nil, errors.New("topic is required")
	}
	if params.QuestionCount <= 0 || params.QuestionCount > 20 {
		params.QuestionCount = 5
	}
	return directive{Action: "quiz", Params: params}, nil
}

func setWorkspace(_ context.Context, _ *identity.Identity, args json.RawMessage) (any, error) {
	var params struct {
		Workspace string `json:"workspace"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, errors.New("invalid setWorkspace arguments")
	}
	if strings.TrimSpace(params.Workspace) == "" {
		return nil, errors.New("workspace is required")
	}
	return directive{Action: "setWorkspace", Params: params}, nil
}

func confirmAction(_ context.Context, _ *identity.Identity, args json.RawMessage) (any, error) {
	var params struct {
		Action  string `json:"action"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, errors.New("invalid confirmAction arguments")
	}
	if strings.TrimSpace(params.Action) == "" || strings.TrimSpace(params.Summary) == "" {
		return nil, errors.New("action and summary are required")
	}
	return directive{Action: "confirmAction", Params: params}, nil
}
