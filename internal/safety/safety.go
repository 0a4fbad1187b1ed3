// Package safety gates shell-command execution. Commands are classified as
// Safe, Dangerous, or Undetermined and combined with the workspace trust
// level to decide whether to run, ask the user, or refuse outright.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Class is the risk classification of a shell command.
type Class string

const (
	ClassSafe         Class = "safe"
	ClassDangerous    Class = "dangerous"
	ClassUndetermined Class = "undetermined"
)

// Trust is the per-directory execution policy.
type Trust string

const (
	TrustFull     Trust = "trust"
	TrustStandard Trust = "standard"
	TrustStrict   Trust = "strict"
)

// ParseTrust maps a config string to a Trust, defaulting to standard.
func ParseTrust(s string) Trust {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trust":
		return TrustFull
	case "strict":
		return TrustStrict
	default:
		return TrustStandard
	}
}

// Decision is the gate's outcome for a command.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionConfirm Decision = "confirm"
	DecisionDeny    Decision = "deny"
)

// Verdict is the full gate output for one command.
type Verdict struct {
	Decision Decision
	Class    Class
	Reason   string
}

// Gate classifies commands against its pattern tables.
type Gate struct {
	safePrefixes []string
	vcsQueries   []string
	dangerous    []*regexp.Regexp
	blocked      []string
	blockedRe    []*regexp.Regexp
}

// NewGate creates a Gate with the default tables. extraSafePrefixes extends
// the auto-approve allow-list from configuration.
func NewGate(extraSafePrefixes []string) *Gate {
	g := &Gate{
		safePrefixes: []string{
			"ls", "pwd", "cat ", "head ", "tail ", "wc ", "echo ",
			"which ", "whoami", "date", "env", "printenv", "file ",
			"stat ", "du ", "df", "ps", "uname", "grep ", "rg ",
			"find ", "tree", "node --version", "npm --version",
			"npm ls", "npm list", "go version", "python --version",
			"python3 --version",
		},
		vcsQueries: []string{
			"git status", "git log", "git diff", "git show",
			"git branch", "git remote", "git rev-parse", "git blame",
		},
		// The destructive-operation table. A match here always requires
		// confirmation, regardless of trust level.
		dangerous: []*regexp.Regexp{
			regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rRf]`),
			regexp.MustCompile(`\bmkfs\b|\bmkfs\.`),
			regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|vd)`),
			regexp.MustCompile(`\bdd\s+.*\bof=/dev/`),
			regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R|--recursive)`),
			regexp.MustCompile(`\bchown\s+(-[a-zA-Z]*R|--recursive)`),
			regexp.MustCompile(`\bgit\s+(reset\s+--hard|clean\s+-[a-zA-Z]*f|push\s+.*--force)`),
			regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
		},
		// Never executed, with or without confirmation.
		blocked: []string{
			"rm -rf /",
			"rm -rf /*",
			"rm -rf ~",
			"rm -rf $home",
			"rm -fr /",
			"/etc/shadow",
			".ssh/id_rsa",
			".ssh/id_ed25519",
			".ssh/id_ecdsa",
			".aws/credentials",
			".kube/config",
			"/dev/tcp/",
			"/dev/udp/",
		},
		blockedRe: []*regexp.Regexp{
			regexp.MustCompile(`:\s*\(\s*\)\s*\{`),
			regexp.MustCompile(`\bdd\s+if=/dev/(zero|u?random)\s+of=/dev/`),
			regexp.MustCompile(`(?i)(wget|curl)\s+[^|]*\|\s*(ba|z)?sh`),
			regexp.MustCompile(`base64\s+-d[^|]*\|\s*(ba)?sh`),
			regexp.MustCompile(`\bnc(at)?\s+(-[a-zA-Z]*\s+)*-[ce]\b`),
			regexp.MustCompile(`echo\s+.*>>\s*\S*authorized_keys`),
		},
	}
	for _, p := range extraSafePrefixes {
		p = strings.TrimSpace(p)
		if p != "" {
			g.safePrefixes = append(g.safePrefixes, p)
		}
	}
	return g
}

// Classify returns the risk class of a command without applying trust.
func (g *Gate) Classify(command string) Class {
	cmd := strings.TrimSpace(command)
	for _, re := range g.dangerous {
		if re.MatchString(cmd) {
			return ClassDangerous
		}
	}
	for _, q := range g.vcsQueries {
		if cmd == q || strings.HasPrefix(cmd, q+" ") {
			return ClassSafe
		}
	}
	for _, p := range g.safePrefixes {
		if cmd == strings.TrimSpace(p) || strings.HasPrefix(cmd, p) {
			// Compound commands lose the safe classification.
			if strings.ContainsAny(cmd, ";|&`$") {
				return ClassUndetermined
			}
			return ClassSafe
		}
	}
	return ClassUndetermined
}

// Evaluate applies the blocklist, the classifier, and the trust matrix.
//
//	            Safe          Dangerous   Undetermined
//	trust       allow         confirm     allow
//	standard    allow         confirm     confirm
//	strict      confirm       confirm     confirm
func (g *Gate) Evaluate(command string, trust Trust) Verdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Decision: DecisionDeny, Class: ClassUndetermined, Reason: "empty command"}
	}
	if reason := g.blockReason(cmd); reason != "" {
		return Verdict{Decision: DecisionDeny, Class: ClassDangerous, Reason: reason}
	}

	class := g.Classify(cmd)
	switch {
	case class == ClassDangerous:
		return Verdict{Decision: DecisionConfirm, Class: class, Reason: "destructive operation"}
	case trust == TrustStrict:
		return Verdict{Decision: DecisionConfirm, Class: class, Reason: "strict trust level"}
	case class == ClassSafe:
		return Verdict{Decision: DecisionAllow, Class: class, Reason: "allow-listed command"}
	case trust == TrustFull:
		return Verdict{Decision: DecisionAllow, Class: class, Reason: "trusted directory"}
	default:
		return Verdict{Decision: DecisionConfirm, Class: class, Reason: "unrecognized command"}
	}
}

func (g *Gate) blockReason(cmd string) string {
	lower := strings.ToLower(cmd)
	for _, sub := range g.blocked {
		if strings.Contains(lower, sub) {
			return fmt.Sprintf("contains blocked pattern %q", sub)
		}
	}
	for _, re := range g.blockedRe {
		if re.MatchString(cmd) {
			return "matches blocked pattern"
		}
	}
	return ""
}
