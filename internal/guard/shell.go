package guard

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ShellValidator is the defense-in-depth validator for shell-adjacent
// commands. The plan guard blocks run_shell outright; this validator exists
// so the system strategy still refuses anything dangerous if a command
// reaches it through another door (a misconfigured guard, a repair tool).
type ShellValidator struct {
	allowedCmd        map[string]bool
	allowedPowershell map[string]bool
}

// Dangerous PowerShell flags that enable bypass.
var blockedPSFlags = []string{
	"-enc", "-encodedcommand",
	"-executionpolicy", "-ep",
	"bypass", "unrestricted", "remotesigned",
}

// Dangerous PowerShell cmdlets.
var blockedPSCmdlets = []string{
	"invoke-expression", "iex",
	"invoke-webrequest", "iwr",
	"invoke-restmethod", "irm",
	"invoke-command", "icm",
	"start-bitstransfer",
	"downloadstring", "downloadfile",
}

// Command chaining and redirection tokens, rejected wholesale.
var dangerousShellTokens = []string{
	"|", "&", ";", ">", "<", "`", "^", "$(", "\n", "\r",
	"%comspec%", "%systemroot%",
}

// NewShellValidator builds a validator from per-engine first-token
// allow-lists.
func NewShellValidator(allowedCmd, allowedPowershell []string) *ShellValidator {
	v := &ShellValidator{
		allowedCmd:        make(map[string]bool, len(allowedCmd)),
		allowedPowershell: make(map[string]bool, len(allowedPowershell)),
	}
	for _, c := range allowedCmd {
		v.allowedCmd[strings.ToLower(c)] = true
	}
	for _, c := range allowedPowershell {
		v.allowedPowershell[strings.ToLower(c)] = true
	}
	return v
}

// ValidateCommand rejects a command unless its first token is on the
// engine's allow-list and it is free of chaining, redirection, and encoded
// execution. Unicode is normalized first so zero-width characters cannot
// split a blocked token.
func (v *ShellValidator) ValidateCommand(engine, command string) error {
	normalized := normalizeShellText(command)

	for _, token := range dangerousShellTokens {
		if strings.Contains(strings.ToLower(normalized), token) {
			return fmt.Errorf("dangerous pattern not allowed: %q in command", token)
		}
	}

	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}

	firstToken := strings.ToLower(strings.Trim(fields[0], `.,;:!?'"-`))
	if firstToken == "" {
		return fmt.Errorf("invalid command token")
	}

	switch engine {
	case "cmd":
		if !v.allowedCmd[firstToken] {
			return fmt.Errorf("command %q not in cmd allowlist (allowed: %s)",
				firstToken, joinSample(v.allowedCmd))
		}
	case "powershell":
		lower := strings.ToLower(normalized)
		for _, flag := range blockedPSFlags {
			if strings.Contains(lower, flag) {
				return fmt.Errorf("blocked powershell flag detected: %q", flag)
			}
		}
		for _, cmdlet := range blockedPSCmdlets {
			if strings.Contains(lower, cmdlet) {
				return fmt.Errorf("blocked powershell cmdlet detected: %q", cmdlet)
			}
		}
		if !v.allowedPowershell[firstToken] {
			return fmt.Errorf("cmdlet %q not in powershell allowlist (allowed: %s)",
				firstToken, joinSample(v.allowedPowershell))
		}
	default:
		return fmt.Errorf("invalid shell engine: %q", engine)
	}

	return nil
}

// normalizeShellText applies NFKC normalization and strips zero-width
// characters.
func normalizeShellText(text string) string {
	return zeroWidthReplacer.Replace(norm.NFKC.String(text))
}

func joinSample(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
		if len(names) == 10 {
			break
		}
	}
	out := strings.Join(names, ", ")
	if len(set) > 10 {
		out += fmt.Sprintf(" (+ %d more)", len(set)-10)
	}
	return out
}
