package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

const fence = "---"

// FrontMatter is the decoded YAML header of an artifact document. Unknown
// fields are kept so they round-trip through the catalog untouched.
type FrontMatter map[string]any

// ParseFrontMatter extracts the header block of content. It returns nil
// with no error when content has no header: the first non-whitespace bytes
// must be a "---" fence line and a closing "---" line must follow. Lines
// such as "----" or "---foo" do not close the header.
func ParseFrontMatter(content []byte) (FrontMatter, error) {
	block, _, ok := splitFrontMatter(content)
	if !ok {
		return nil, nil
	}

	fm := FrontMatter{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("front-matter: %v: %w", err, apperr.ErrParse)
	}
	return fm, nil
}

// Body returns content with any front-matter header removed.
func Body(content []byte) []byte {
	_, body, ok := splitFrontMatter(content)
	if !ok {
		return content
	}
	return body
}

// splitFrontMatter returns the YAML between the fences and the remainder
// after the closing fence line.
func splitFrontMatter(content []byte) (block, body []byte, ok bool) {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte(fence)) {
		return nil, nil, false
	}

	rest := trimmed[len(fence):]
	// The opening fence must be alone on its line.
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, nil, false
	}
	rest = rest[nl+1:]

	off, ok := closingFence(rest)
	if !ok {
		return nil, nil, false
	}
	return rest[:off], afterFenceLine(rest[off+len(fence):]), true
}

// closingFence returns the offset of the first line of rest that is a
// fence with nothing after it but spaces.
func closingFence(rest []byte) (int, bool) {
	off := 0
	for {
		line := rest[off:]
		end := bytes.IndexByte(line, '\n')
		if end >= 0 {
			line = line[:end]
		}
		if bytes.HasPrefix(line, []byte(fence)) && len(bytes.TrimRight(line[len(fence):], " \t\r")) == 0 {
			return off, true
		}
		if end < 0 {
			return 0, false
		}
		off += end + 1
	}
}

func afterFenceLine(b []byte) []byte {
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		return b[nl+1:]
	}
	return nil
}

// SerializeFrontMatter renders fm as a fenced header block.
func SerializeFrontMatter(fm FrontMatter) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	if len(fm) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any(fm)); err != nil {
			return nil, fmt.Errorf("failed to encode front-matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode front-matter: %w", err)
		}
	}
	buf.WriteString(fence + "\n")
	return buf.Bytes(), nil
}

// JSON serializes fm for storage in the catalog. A nil header is stored
// as SQL NULL by callers, so this returns "" for it.
func (fm FrontMatter) JSON() (string, error) {
	if fm == nil {
		return "", nil
	}
	data, err := json.Marshal(jsonSafe(map[string]any(fm)))
	if err != nil {
		return "", fmt.Errorf("failed to marshal front-matter: %w", err)
	}
	return string(data), nil
}

// FrontMatterFromJSON decodes a stored header.
func FrontMatterFromJSON(s string) (FrontMatter, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var fm FrontMatter
	if err := json.Unmarshal([]byte(s), &fm); err != nil {
		return nil, fmt.Errorf("front-matter json: %v: %w", err, apperr.ErrParse)
	}
	return fm, nil
}

// jsonSafe converts map[any]any values (possible in nested YAML) into
// map[string]any so encoding/json accepts them.
func jsonSafe(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonSafe(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = jsonSafe(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonSafe(item)
		}
		return out
	}
	return v
}

func (fm FrontMatter) str(key string) string {
	if fm == nil {
		return ""
	}
	switch v := fm[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Type returns the normalized "type" field, or "" when absent.
func (fm FrontMatter) Type() Type {
	s := fm.str("type")
	if s == "" {
		return ""
	}
	return ParseType(s)
}

// Alias returns the display name set in the header.
func (fm FrontMatter) Alias() string { return fm.str("alias") }

// Name returns the "name" field.
func (fm FrontMatter) Name() string { return fm.str("name") }

// Description returns the "description" field.
func (fm FrontMatter) Description() string { return fm.str("description") }

// DisplayName returns alias, then name, then fallback.
func (fm FrontMatter) DisplayName(fallback string) string {
	if a := fm.Alias(); a != "" {
		return a
	}
	if n := fm.Name(); n != "" {
		return n
	}
	return fallback
}

// Tags returns the "tags" list. A comma-separated string is also accepted.
func (fm FrontMatter) Tags() []string {
	if fm == nil {
		return nil
	}
	var tags []string
	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				tags = append(tags, s)
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				tags = append(tags, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				tags = append(tags, s)
			}
		}
	}
	return tags
}

// Keys returns the header's field names in sorted order.
func (fm FrontMatter) Keys() []string {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
