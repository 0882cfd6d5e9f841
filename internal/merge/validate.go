package merge

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Validate runs a best-effort syntactic sanity check on merged content, keyed
// by file extension. It returns a boolean, not an error: validation is
// advisory, and a failed check does not undo an already-performed merge.
// Callers decide what to do with an invalid-but-merged result.
func Validate(path, content string) bool {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "go", "rs", "c", "h", "js", "ts", "java":
		return balancedBrackets(content)
	case "json":
		return json.Valid([]byte(content))
	case "yaml", "yml":
		// Shallow placeholder, not a grammar check: an empty document is the
		// only thing a positional line merge can plausibly mangle YAML into
		// that this layer is equipped to notice.
		return strings.TrimSpace(content) != ""
	default:
		return true
	}
}

// balancedBrackets scans for matched (), [] and {} pairs. It does not skip
// string or comment contexts; an unbalanced bracket inside a string literal
// is a false negative this check accepts.
func balancedBrackets(content string) bool {
	var stack []rune
	for _, ch := range content {
		switch ch {
		case '(', '[', '{':
			stack = append(stack, ch)
		case ')':
			if !popMatches(&stack, '(') {
				return false
			}
		case ']':
			if !popMatches(&stack, '[') {
				return false
			}
		case '}':
			if !popMatches(&stack, '{') {
				return false
			}
		}
	}
	return len(stack) == 0
}

func popMatches(stack *[]rune, want rune) bool {
	s := *stack
	if len(s) == 0 || s[len(s)-1] != want {
		return false
	}
	*stack = s[:len(s)-1]
	return true
}
