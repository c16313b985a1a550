package guard

import (
	"fmt"
	"log/slog"
	"regexp"
)

// shellDenyPatterns reject commands before they ever reach a shell.
// The list complements the path jail and the stripped child environment;
// it is a filter on obviously hostile shapes, not a sandbox.
var shellDenyPatterns = []*regexp.Regexp{
	// ── Destructive filesystem ──
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$|\*)`), // rm -rf / and friends
	regexp.MustCompile(`\brm\s+.*--no-preserve-root`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
	regexp.MustCompile(`(?i)\bdel\s+/s\b`),

	// ── Fork bombs ──
	regexp.MustCompile(`:\(\)\s*\{`),

	// ── Credential exfiltration ──
	regexp.MustCompile(`\b(cat|less|more|head|tail|strings)\b[^|;&]*\.(env|pem|key|secret|token|credentials?)\b`),
	regexp.MustCompile(`\b(curl|wget)\b.*169\.254\.169\.254`),
	regexp.MustCompile(`\b(curl|wget)\b.*metadata\.google\.internal`),
	regexp.MustCompile(`(?i)\bexport\b[^|;&]*_(KEY|SECRET|TOKEN|PASSWORD)\b`),
	regexp.MustCompile(`/proc/self`),

	// ── Listeners, tunnels, raw sockets ──
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*\s-[a-zA-Z]*l`),
	regexp.MustCompile(`(?i)\bsocat\b.*listen`),
	regexp.MustCompile(`\bssh\b.*\s-R\b`),
	regexp.MustCompile(`/dev/(tcp|udp)/`),

	// ── Privilege escalation ──
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*[ug]\+s\b`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*[42][0-7]{3}\b`),
	regexp.MustCompile(`\bchown\s+(-[a-zA-Z]+\s+)*root\b`),

	// ── Piped remote code ──
	regexp.MustCompile(`\bbase64\b.*\|\s*(ba|z|da)?sh\b`),
	regexp.MustCompile(`\b(curl|wget)\b.*\|\s*(ba|z|da)?sh\b`),
	regexp.MustCompile(`\b(curl|wget)\b.*\|\s*python[23]?\b`),
	regexp.MustCompile(`\b(curl|wget)\b.*\|\s*eval\b`),

	// ── Windows administration ──
	regexp.MustCompile(`(?i)\breg\s+(add|delete)\b`),
	regexp.MustCompile(`(?i)\bnet\s+(user|localgroup)\b`),
	regexp.MustCompile(`(?i)\bpowershell\b.*-enc`),
}

// ValidateShellCommand rejects any command matching a deny pattern.
// Commands that match nothing pass through unchanged.
func ValidateShellCommand(command string) error {
	for _, p := range shellDenyPatterns {
		if p.MatchString(command) {
			slog.Warn("security.shell_blocked", "pattern", p.String())
			return NewSecurityError(fmt.Sprintf("command blocked by safety filter (matched %s)", p.String()))
		}
	}
	return nil
}
