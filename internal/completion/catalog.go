package completion

import "fmt"

// Model is one entry in the fixed model catalog.
type Model struct {
	ID          string
	Label       string
	Description string
	Default     bool
}

// catalog is the fixed set of models the bot can talk to. Exactly one
// entry is the default.
var catalog = []Model{
	{
		ID:          "gpt-4o",
		Label:       "GPT-4o",
		Description: "Strongest general model, supports image input",
		Default:     true,
	},
	{
		ID:          "gpt-4o-mini",
		Label:       "GPT-4o mini",
		Description: "Faster and cheaper, good for everyday questions",
	},
	{
		ID:          "o3-mini",
		Label:       "o3-mini",
		Description: "Reasoning model for harder problems, text only",
	},
}

// Catalog returns a copy of the model catalog.
func Catalog() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// DefaultModel returns the catalog's default model id.
func DefaultModel() string {
	for _, m := range catalog {
		if m.Default {
			return m.ID
		}
	}
	return catalog[0].ID
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// UnknownModelError is returned when a requested model id is not in the
// catalog. The active selection is left unchanged.
type UnknownModelError struct {
	ID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.ID)
}

// ServiceError carries the upstream status and message of a failed
// completion request.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion service returned %d: %s", e.Status, e.Message)
}
