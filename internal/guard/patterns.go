package guard

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Destructive-pattern scanner. Every string argument of every step is scanned
// regardless of tool, so a dangerous payload cannot hide behind an innocuous
// tool name. Arguments are sanitized first: homoglyph folding, zero-width
// stripping, and quote/escape removal defeat the usual smuggling tricks.

var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-[rf]+`),         // recursive/forced delete
	regexp.MustCompile(`del\s+/[sq]`),         // del /s, del /q
	regexp.MustCompile(`rd\s+/s`),             // remove directory tree
	regexp.MustCompile(`format\s+[a-z]:`),     // format c:
	regexp.MustCompile(`mkfs(\.\w+)?\s`),      // mkfs.ext4 /dev/...
	regexp.MustCompile(`reg\s+delete`),        // registry delete
	regexp.MustCompile(`:\(\)\s*\{.*\}\s*;:`), // fork bomb
}

// wildcardDelete matches a delete-class command whose target carries a
// wildcard.
var wildcardDelete = regexp.MustCompile(`(^|\s)(del|rm|rd|erase)\s+\S*[*?]`)

var zeroWidthReplacer = strings.NewReplacer(
	"​", "", // zero-width space
	"‌", "", // zero-width non-joiner
	"‍", "", // zero-width joiner
	"‎", "", // left-to-right mark
	"‏", "", // right-to-left mark
	"\uFEFF", "", // zero-width no-break space
)

var quoteReplacer = strings.NewReplacer(
	`"`, "",
	`'`, "",
	"`", "",
	`\`, "",
)

// sanitizeArgument normalizes a string argument for pattern scanning:
// NFKC fold, zero-width strip, quote and escape removal, lowercase.
func sanitizeArgument(s string) string {
	out := norm.NFKC.String(s)
	out = zeroWidthReplacer.Replace(out)
	out = quoteReplacer.Replace(out)
	return strings.ToLower(out)
}

// destructiveMatch returns the source of the first destructive pattern found
// in the sanitized argument, or "".
func destructiveMatch(arg string) string {
	sanitized := sanitizeArgument(arg)

	for _, pattern := range destructivePatterns {
		if pattern.MatchString(sanitized) {
			return pattern.String()
		}
	}
	if wildcardDelete.MatchString(sanitized) {
		return wildcardDelete.String()
	}
	return ""
}

// stringArguments walks an argument value and yields every string in it,
// including strings nested in lists and maps.
func stringArguments(v any, visit func(string)) {
	switch vv := v.(type) {
	case string:
		visit(vv)
	case []any:
		for _, item := range vv {
			stringArguments(item, visit)
		}
	case []string:
		for _, item := range vv {
			visit(item)
		}
	case map[string]any:
		for _, item := range vv {
			stringArguments(item, visit)
		}
	}
}
