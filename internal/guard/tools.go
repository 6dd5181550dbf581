package guard

import (
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Tool classification. Safe tools are always allowed, restricted tools are
// allowed only when their arguments pass an allow-list, blocked tools are
// never allowed. Any tool in none of the three sets is rejected by default.

// SafeTools are plain input and observation actions.
var SafeTools = map[string]bool{
	"click":           true,
	"double_click":    true,
	"right_click":     true,
	"type_text":       true,
	"press_key":       true,
	"scroll":          true,
	"move_mouse":      true,
	"wait":            true,
	"wait_for":        true,
	"screenshot":      true,
	"read_text":       true,
	"get_window_list": true,
	"focus_window":    true,
	"select":          true,
}

// RestrictedTools need argument-level validation against the trusted lists.
var RestrictedTools = map[string]bool{
	"open_app": true,
	"open_url": true,
}

// BlockedTools are never allowed in a plan, whatever their arguments.
var BlockedTools = map[string]bool{
	"run_shell":       true,
	"read_file":       true,
	"write_file":      true,
	"delete_file":     true,
	"clipboard_read":  true,
	"clipboard_write": true,
	"registry_edit":   true,
	"kill_process":    true,
	"format_disk":     true,
}

// AllowedToolList returns the sorted names of safe and restricted tools, for
// default-deny violation messages.
func AllowedToolList() []string {
	names := make([]string, 0, len(SafeTools)+len(RestrictedTools))
	for name := range SafeTools {
		names = append(names, name)
	}
	for name := range RestrictedTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeAppName reduces an application reference to comparable forms:
// the lowercase basename with extension, and without. A full path like
// "C:\Windows\System32\NOTEPAD.EXE" yields ("notepad.exe", "notepad").
func NormalizeAppName(name string) (withExt, withoutExt string) {
	n := strings.TrimSpace(name)
	// Handle both separators; a Windows path may arrive on any host.
	n = strings.ReplaceAll(n, `\`, `/`)
	n = path.Base(n)
	n = strings.ToLower(n)

	ext := path.Ext(n)
	return n, strings.TrimSuffix(n, ext)
}

// appTrusted reports whether the normalized app name (or a configured alias
// of it) appears in the trusted set.
func appTrusted(name string, trusted map[string]bool, aliases map[string]string) bool {
	withExt, withoutExt := NormalizeAppName(name)
	if trusted[withExt] || trusted[withoutExt] {
		return true
	}
	if canonical, ok := aliases[withoutExt]; ok && trusted[canonical] {
		return true
	}
	return false
}

// urlVerdict classifies an open_url target against the trusted domains.
type urlVerdict int

const (
	urlTrusted urlVerdict = iota
	urlUntrusted
	urlLiteralIP
	urlLocalhost
	urlMalformed
)

// checkURL validates a URL host: literal IP addresses and localhost are
// always rejected, everything else must suffix-match a trusted domain.
func checkURL(raw string, trustedDomains []string) (urlVerdict, string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return urlMalformed, raw
	}

	host := strings.ToLower(u.Hostname())

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return urlLocalhost, host
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return urlLocalhost, host
		}
		return urlLiteralIP, host
	}

	for _, domain := range trustedDomains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return urlTrusted, host
		}
	}
	return urlUntrusted, host
}

// Dangerous keypress combinations, blocked even though press_key itself is a
// safe tool. Subset match on normalized key names so argument order never
// matters.
var dangerousKeyCombos = []struct {
	keys map[string]bool
	name string
}{
	{map[string]bool{"ctrl": true, "alt": true, "del": true}, "Ctrl+Alt+Del"},
	{map[string]bool{"alt": true, "f4": true}, "Alt+F4 (force close)"},
	{map[string]bool{"win": true, "l": true}, "Win+L (lock screen)"},
	{map[string]bool{"win": true, "r": true}, "Win+R (run dialog)"},
	{map[string]bool{"ctrl": true, "shift": true, "esc": true}, "Ctrl+Shift+Esc (task manager)"},
}

// keySynonyms folds the common spellings to one canonical name.
var keySynonyms = map[string]string{
	"delete":  "del",
	"escape":  "esc",
	"control": "ctrl",
	"windows": "win",
	"meta":    "win",
	"super":   "win",
	"cmd":     "win",
}

func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := keySynonyms[k]; ok {
		return canonical
	}
	return k
}

// dangerousCombo returns the display name of the first dangerous combination
// contained in keys, or "".
func dangerousCombo(keys []string) string {
	pressed := make(map[string]bool, len(keys))
	for _, k := range keys {
		pressed[normalizeKey(k)] = true
	}

	for _, combo := range dangerousKeyCombos {
		all := true
		for k := range combo.keys {
			if !pressed[k] {
				all = false
				break
			}
		}
		if all {
			return combo.name
		}
	}
	return ""
}
