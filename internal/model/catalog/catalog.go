// Package catalog holds the upstream model-listing types. They mirror the
// OpenRouter /models response so cached listings round-trip losslessly.
package catalog

// Pricing is the per-token pricing block of a catalog model. Values are
// decimal strings as returned by the provider.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Request    string `json:"request,omitempty"`
	Image      string `json:"image,omitempty"`
}

// Architecture describes a model's modalities.
type Architecture struct {
	Tokenizer        string   `json:"tokenizer"`
	InstructType     *string  `json:"instruct_type"`
	Modality         *string  `json:"modality"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
}

// Model is one entry of the upstream model listing.
type Model struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Created       int64        `json:"created"`
	Description   string       `json:"description"`
	Pricing       Pricing      `json:"pricing"`
	ContextLength *int64       `json:"context_length"`
	Architecture  Architecture `json:"architecture"`
}

// ValidationResult reports whether a model id exists in the catalog.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Model      *Model `json:"model,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Error      string `json:"error,omitempty"`
}
