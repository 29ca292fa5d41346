package consent

import (
	"fmt"

	dErrors "consentgate/pkg/domain-errors"
)

// CategoryDefinition is operator configuration, not user data. It defines one
// bucket of cookie purposes that visitors can accept or reject, and the
// universe against which consent records are validated.
type CategoryDefinition struct {
	Key             string `json:"key"`
	Required        bool   `json:"required"`
	DefaultAccepted bool   `json:"default"`
	Title           string `json:"title"`
	Description     string `json:"description"`
}

// Registry holds the configured category universe in declaration order.
// Order is irrelevant for correctness but preserved for display.
type Registry struct {
	order []string
	byKey map[string]CategoryDefinition
}

// NewRegistry builds a registry from the given definitions. Empty or duplicate
// keys are configuration errors and fail eagerly.
func NewRegistry(defs ...CategoryDefinition) (*Registry, error) {
	r := &Registry{byKey: make(map[string]CategoryDefinition, len(defs))}
	for _, def := range defs {
		if err := r.Add(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the stock category set.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(
		CategoryDefinition{Key: "necessary", Required: true, DefaultAccepted: true, Title: "Necessary",
			Description: "Essential cookies required for the website to function properly."},
		CategoryDefinition{Key: "functional", Title: "Functional",
			Description: "Cookies that enhance website functionality and personalization."},
		CategoryDefinition{Key: "analytics", Title: "Analytics",
			Description: "Cookies used to analyze website traffic and user behavior."},
		CategoryDefinition{Key: "marketing", Title: "Marketing",
			Description: "Cookies used for marketing and email campaigns."},
		CategoryDefinition{Key: "advertising", Title: "Advertising",
			Description: "Cookies used to display personalized advertisements."},
	)
	return r
}

// Add registers a category definition.
func (r *Registry) Add(def CategoryDefinition) error {
	if def.Key == "" {
		return dErrors.New(dErrors.CodeInvalidConfig, "category key cannot be empty")
	}
	if _, exists := r.byKey[def.Key]; exists {
		return dErrors.New(dErrors.CodeInvalidConfig, fmt.Sprintf("duplicate category key %q", def.Key))
	}
	r.order = append(r.order, def.Key)
	r.byKey[def.Key] = def
	return nil
}

// Remove drops a category. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string) {
	if _, exists := r.byKey[key]; !exists {
		return
	}
	delete(r.byKey, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (CategoryDefinition, bool) {
	def, ok := r.byKey[key]
	return def, ok
}

// Has reports whether key is a configured category.
func (r *Registry) Has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Keys returns every configured category key in declaration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// RequiredKeys returns the keys that must appear in every accepted set.
func (r *Registry) RequiredKeys() []string {
	var keys []string
	for _, k := range r.order {
		if r.byKey[k].Required {
			keys = append(keys, k)
		}
	}
	return keys
}

// OptionalKeys returns the keys a visitor may reject.
func (r *Registry) OptionalKeys() []string {
	var keys []string
	for _, k := range r.order {
		if !r.byKey[k].Required {
			keys = append(keys, k)
		}
	}
	return keys
}

// Definitions returns every definition in declaration order.
func (r *Registry) Definitions() []CategoryDefinition {
	defs := make([]CategoryDefinition, 0, len(r.order))
	for _, k := range r.order {
		defs = append(defs, r.byKey[k])
	}
	return defs
}

func (r *Registry) Len() int { return len(r.order) }
