package permission

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// FieldPolicy selects how field grants are enforced against request keys.
type FieldPolicy uint8

const (
	// FieldPolicyNone accepts any request field.
	FieldPolicyNone FieldPolicy = iota
	// FieldPolicyDenyList rejects request keys listed in the deny set.
	FieldPolicyDenyList
	// FieldPolicyAllowList rejects request keys missing from a non-empty allow set.
	FieldPolicyAllowList
	// FieldPolicyMixed applies the deny list and then the allow list.
	FieldPolicyMixed
)

// DefaultKeyDepth bounds nested key collection for request bodies.
const DefaultKeyDepth = 15

var (
	// ErrFieldsNotAllowed is wrapped by every *FieldError.
	ErrFieldsNotAllowed = errors.New("request fields not allowed")
	// ErrKeyDepthExceeded is returned by CollectKeys when nesting exceeds the limit.
	ErrKeyDepthExceeded = errors.New("request keys max depth exceeded")
)

// FieldError reports the request fields rejected for one source.
type FieldError struct {
	Source Source
	Fields []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s [%s]", ErrFieldsNotAllowed, e.Source, strings.Join(e.Fields, ", "))
}

// Unwrap returns ErrFieldsNotAllowed.
func (e *FieldError) Unwrap() error {
	return ErrFieldsNotAllowed
}

// RequestKeys holds the field names present in a request, per source.
type RequestKeys map[Source][]string

// CheckFields enforces the field grants of p against keys using policy.
// Sources are checked in the order of Sources; the first violation is returned.
func CheckFields(p EffectivePermission, policy FieldPolicy, keys RequestKeys) error {
	switch policy {
	case FieldPolicyNone:
		return nil
	case FieldPolicyDenyList:
		return checkDenyList(p.DenyFields, keys)
	case FieldPolicyAllowList:
		return checkAllowList(p.AllowFields, keys)
	case FieldPolicyMixed:
		if err := checkDenyList(p.DenyFields, keys); err != nil {
			return err
		}
		return checkAllowList(p.AllowFields, keys)
	default:
		return fmt.Errorf("unknown field policy %d", policy)
	}
}

func checkDenyList(denied FieldSet, keys RequestKeys) error {
	for _, src := range Sources {
		names := denied[src]
		present := keys[src]
		if len(names) == 0 || len(present) == 0 {
			continue
		}
		var bad []string
		for _, k := range present {
			if denied.Has(src, k) {
				bad = append(bad, k)
			}
		}
		if len(bad) > 0 {
			return newFieldError(src, bad)
		}
	}
	return nil
}

func checkAllowList(allowed FieldSet, keys RequestKeys) error {
	for _, src := range Sources {
		names := allowed[src]
		present := keys[src]
		if len(names) == 0 || len(present) == 0 {
			continue
		}
		var bad []string
		for _, k := range present {
			if !allowed.Has(src, k) {
				bad = append(bad, k)
			}
		}
		if len(bad) > 0 {
			return newFieldError(src, bad)
		}
	}
	return nil
}

func newFieldError(src Source, fields []string) *FieldError {
	slices.Sort(fields)
	return &FieldError{Source: src, Fields: slices.Compact(fields)}
}

// CollectKeys returns every map key found in v, descending into nested maps
// and slices. maxDepth <= 0 disables the depth limit.
func CollectKeys(v any, maxDepth int) ([]string, error) {
	type frame struct {
		value any
		depth int
	}

	seen := make(map[string]struct{})
	stack := []frame{{value: v}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if maxDepth > 0 && cur.depth > maxDepth {
			return nil, ErrKeyDepthExceeded
		}

		switch node := cur.value.(type) {
		case map[string]any:
			for k, child := range node {
				seen[k] = struct{}{}
				if isContainer(child) {
					stack = append(stack, frame{value: child, depth: cur.depth + 1})
				}
			}
		case []any:
			for _, child := range node {
				if isContainer(child) {
					stack = append(stack, frame{value: child, depth: cur.depth + 1})
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
