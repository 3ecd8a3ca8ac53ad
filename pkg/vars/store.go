// Package vars implements the dot-path addressed variable store shared by
// all nodes of a session run. Paths take the form
// "variables.foo.bar[0].baz": the literal root token "variables", then
// identifier steps (map keys) and bracketed integer steps (list indices).
package vars

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avencia/graphrun/pkg/domain"
)

// RootToken is the mandatory first token of every path.
const RootToken = "variables"

// Store wraps the session's variable map. Mutation is in place; the store is
// owned exclusively by a single runner goroutine and must never be shared.
type Store struct {
	root map[string]any
}

// New wraps an existing variable map. A nil map is replaced with an empty one.
func New(root map[string]any) *Store {
	if root == nil {
		root = make(map[string]any)
	}
	return &Store{root: root}
}

// Root returns the underlying map (not a copy).
func (s *Store) Root() map[string]any { return s.root }

// Snapshot returns a deep copy of the variable map.
func (s *Store) Snapshot() map[string]any {
	return Copy(s.root).(map[string]any)
}

// Resolve maps each entry's path expression to its current value. Values are
// deep-copied so callers never alias the live store.
func (s *Store) Resolve(paths map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(paths))
	for key, path := range paths {
		v, err := s.Get(path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// Get resolves a single path expression.
func (s *Store) Get(path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	cur := any(s.root)
	for _, seg := range segs {
		cur, err = step(cur, seg, path)
		if err != nil {
			return nil, err
		}
	}
	return Copy(cur), nil
}

// Apply writes value at path. An empty path (or the bare root token) merges
// value into the top-level store and requires value to be a map. Otherwise
// the store walks to the parent of the last segment, creating missing
// intermediate maps; a map written over an existing map is merged
// recursively, anything else overwrites.
func (s *Store) Apply(path string, value any) error {
	value = Normalize(value)

	if path == "" || path == RootToken {
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: top-level merge requires a map, got %T", domain.ErrInvalidAssignment, value)
		}
		merge(s.root, m)
		return nil
	}

	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	cur := any(s.root)
	for _, seg := range segs[:len(segs)-1] {
		if seg.isIndex {
			cur, err = step(cur, seg, path)
			if err != nil {
				return err
			}
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q: step %q is not a map", domain.ErrInvalidPath, path, seg.key)
		}
		child, exists := m[seg.key]
		if !exists {
			child = make(map[string]any)
			m[seg.key] = child
		}
		cur = child
	}

	last := segs[len(segs)-1]
	if last.isIndex {
		list, ok := cur.([]any)
		if !ok {
			return fmt.Errorf("%w: %q: index into non-list", domain.ErrInvalidPath, path)
		}
		if last.index < 0 || last.index >= len(list) {
			return fmt.Errorf("%w: %q: index %d out of range", domain.ErrInvalidPath, path, last.index)
		}
		list[last.index] = value
		return nil
	}

	m, ok := cur.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %q: parent is not a map", domain.ErrInvalidPath, path)
	}
	if existing, ok := m[last.key].(map[string]any); ok {
		if vm, ok := value.(map[string]any); ok {
			merge(existing, vm)
			return nil
		}
	}
	m[last.key] = value
	return nil
}

type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath validates the root token and returns the remaining segments.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", domain.ErrInvalidPath)
	}
	tokens := strings.Split(path, ".")
	if tokens[0] != RootToken {
		return nil, fmt.Errorf("%w: %q must start with %q", domain.ErrInvalidPath, path, RootToken)
	}
	var segs []segment
	for _, tok := range tokens[1:] {
		name := tok
		var indices []int
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			if !strings.HasSuffix(name, "]") {
				return nil, fmt.Errorf("%w: %q: unterminated index in %q", domain.ErrInvalidPath, path, tok)
			}
			idxPart := name[open+1 : len(name)-1]
			// Nested indices like a[0][1] split left to right.
			if close := strings.IndexByte(idxPart, ']'); close >= 0 {
				rest := idxPart[close+1:]
				idxPart = idxPart[:close]
				n, err := strconv.Atoi(idxPart)
				if err != nil {
					return nil, fmt.Errorf("%w: %q: bad index %q", domain.ErrInvalidPath, path, idxPart)
				}
				indices = append(indices, n)
				name = name[:open] + rest
				continue
			}
			n, err := strconv.Atoi(idxPart)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: bad index %q", domain.ErrInvalidPath, path, idxPart)
			}
			indices = append(indices, n)
			name = name[:open]
		}
		if name == "" && len(indices) == 0 {
			return nil, fmt.Errorf("%w: %q: empty segment", domain.ErrInvalidPath, path)
		}
		if name != "" {
			segs = append(segs, segment{key: name})
		}
		for _, n := range indices {
			segs = append(segs, segment{index: n, isIndex: true})
		}
	}
	return segs, nil
}

func step(cur any, seg segment, path string) (any, error) {
	if seg.isIndex {
		list, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q: index into non-list", domain.ErrInvalidPath, path)
		}
		if seg.index < 0 || seg.index >= len(list) {
			return nil, fmt.Errorf("%w: %q: index %d out of range", domain.ErrInvalidPath, path, seg.index)
		}
		return list[seg.index], nil
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q: step %q is not a map", domain.ErrInvalidPath, path, seg.key)
	}
	v, exists := m[seg.key]
	if !exists {
		return nil, fmt.Errorf("%w: %q: undefined step %q", domain.ErrInvalidPath, path, seg.key)
	}
	return v, nil
}

// merge recursively folds src into dst. Nested maps merge; everything else
// overwrites. Values are copied so dst never aliases src.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if dm, ok := dst[k].(map[string]any); ok {
			if sm, ok := v.(map[string]any); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = Copy(v)
	}
}

// Normalize deep-converts container values to plain map[string]any / []any
// so no caller-specific wrapper types enter the store.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

// Copy deep-copies plain container values; scalars pass through.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Copy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Copy(e)
		}
		return out
	default:
		return v
	}
}
