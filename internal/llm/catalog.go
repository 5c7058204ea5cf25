package llm

// DefaultModel is used when neither configuration nor request names a model.
const DefaultModel = "claude-sonnet-4-20250514"

// Model describes one entry in the model catalog.
type Model struct {
	ID          string
	Name        string
	ContextSize int
}

// Catalog returns the models the runtime knows how to price and route.
func Catalog() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
	}
}
