package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable marks transient failures (network, pool exhaustion, closed backend).
// Callers may retry operations that fail with it.
var ErrUnavailable = errors.New("record store unavailable")

// ErrInvalidPath is returned for empty or malformed record paths.
var ErrInvalidPath = errors.New("invalid record path")

// ErrNotNumeric is returned when an Increment targets a non-numeric field.
var ErrNotNumeric = errors.New("increment target is not numeric")

// ErrConflict is returned when a Claim finds its field already set or a Take
// finds it missing. The whole patch is refused and nothing is written.
var ErrConflict = errors.New("record field already claimed")

// Increment is a patch value that atomically adds n to the current numeric
// field (absent counts as zero).
type Increment int64

// IfAbsent wraps a patch value that is written only when the field is
// missing, evaluated atomically with the rest of the patch.
func IfAbsent(value any) any { return ifAbsent{value: value} }

type ifAbsent struct{ value any }

// Claim wraps a patch value that must find its field missing. If the field
// exists the patch fails with ErrConflict, so of several writers racing for
// the same field exactly one succeeds.
func Claim(value any) any { return claim{value: value} }

type claim struct{ value any }

// Take is a patch value that removes a field which must exist. If the field
// is missing the patch fails with ErrConflict. Paired with Claim it lets a
// marker be set and then cleared exactly once.
func Take() any { return take{} }

type take struct{}

// IsConditional reports whether v depends on the stored value (Increment,
// IfAbsent, Claim or Take) rather than being written as is.
func IsConditional(v any) bool {
	switch v.(type) {
	case Increment, ifAbsent, claim, take:
		return true
	}
	return false
}

// Patch is a shallow-or-nested merge applied to a single record. Keys may
// address nested fields with "/" separators. A nil value removes the field.
type Patch map[string]any

// Record is one child of a collection.
type Record struct {
	ID    string
	Path  string
	Value []byte
}

// Event is emitted by Watch for every write under the watched prefix.
type Event struct {
	Path    string
	Value   []byte
	Deleted bool
}

// Store is the key-addressed record store used by every component. There
// are no multi-record transactions; Update is atomic for a single path only.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, patch Patch) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Record, error)
	Push(ctx context.Context, collection string, value any) (string, error)
	// Watch streams events for paths at or below prefix until ctx ends,
	// then closes the channel and releases the subscription.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	Close() error
}

// Join builds a record path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split returns the collection and id of a two-segment record path.
func Split(path string) (collection, id string, err error) {
	if err := ValidatePath(path); err != nil {
		return "", "", err
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q has no id segment", ErrInvalidPath, path)
	}
	return path[:idx], path[idx+1:], nil
}

// ValidatePath rejects empty paths and empty segments.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if strings.TrimSpace(seg) == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Matches reports whether path is at or below prefix. An empty prefix matches everything.
func Matches(prefix, path string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// IsChild reports whether path is a direct child of collection.
func IsChild(collection, path string) bool {
	if !strings.HasPrefix(path, collection+"/") {
		return false
	}
	rest := path[len(collection)+1:]
	return rest != "" && !strings.Contains(rest, "/")
}

// Encode marshals a record value.
func Encode(value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		if !json.Valid(raw) {
			return nil, errors.New("encode record: invalid json")
		}
		return raw, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return Encode([]byte(raw))
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// ApplyPatch merges patch into the encoded document current (nil for a
// missing record) and returns the new encoding.
func ApplyPatch(current []byte, patch Patch) ([]byte, error) {
	doc := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	if err := Apply(doc, patch); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Apply merges patch into doc in place. Keys are applied in sorted order so
// every backend produces the same result. Claim and Take guards are checked
// before anything is merged; a conflict leaves doc untouched.
func Apply(doc map[string]any, patch Patch) error {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch patch[key].(type) {
		case claim:
			if _, set := lookupField(doc, key); set {
				return fmt.Errorf("%w: %s already set", ErrConflict, key)
			}
		case take:
			if _, set := lookupField(doc, key); !set {
				return fmt.Errorf("%w: %s not set", ErrConflict, key)
			}
		}
	}

	for _, key := range keys {
		if err := ValidatePath(key); err != nil {
			return fmt.Errorf("patch key: %w", err)
		}
		parts := strings.Split(key, "/")
		val := patch[key]

		parent := doc
		skip := false
		for _, p := range parts[:len(parts)-1] {
			child, ok := parent[p].(map[string]any)
			if !ok {
				if val == nil {
					skip = true
					break
				}
				child = map[string]any{}
				parent[p] = child
			}
			parent = child
		}
		if skip {
			continue
		}
		last := parts[len(parts)-1]

		switch v := val.(type) {
		case nil, take:
			delete(parent, last)
		case Increment:
			cur, err := numeric(parent[last])
			if err != nil {
				return fmt.Errorf("%w: %s", err, key)
			}
			parent[last] = cur + float64(v)
		case claim:
			norm, err := normalize(v.value)
			if err != nil {
				return fmt.Errorf("patch %s: %w", key, err)
			}
			parent[last] = norm
		case ifAbsent:
			if _, ok := parent[last]; ok {
				continue
			}
			norm, err := normalize(v.value)
			if err != nil {
				return fmt.Errorf("patch %s: %w", key, err)
			}
			parent[last] = norm
		default:
			norm, err := normalize(v)
			if err != nil {
				return fmt.Errorf("patch %s: %w", key, err)
			}
			parent[last] = norm
		}
	}
	return nil
}

func lookupField(doc map[string]any, key string) (any, bool) {
	parts := strings.Split(key, "/")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = child
	}
	v, ok := cur[parts[len(parts)-1]]
	return v, ok
}

func numeric(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, ErrNotNumeric
	}
}

// normalize converts arbitrary Go values into their generic JSON form so the
// document can be re-encoded deterministically.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
