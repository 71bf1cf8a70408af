// Package sanitize is the pre_request DataSanitizer plugin (C9): it
// scans an incoming prompt for attempts to talk the pipeline itself out
// of being governed — instructing the model to ignore its policy
// evaluation, disable the kill-switch, skip the approval workflow, or
// quiet the audit trail — alongside the generic prompt-injection and
// data-exfiltration categories a governance layer also has to catch.
// Detection severity is expressed in the same closed RiskLevel
// vocabulary the Agent Registry and Policy Engine already use, so a
// caller downstream of the hook (risk escalation, audit metadata) never
// has to translate between two severity scales.
package sanitize

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/controlplane/aicp/internal/registry"
)

// Config holds sanitization settings.
type Config struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Mode         string `yaml:"mode" json:"mode"` // flag, warn, deny
	PatternsFile string `yaml:"patterns_file" json:"patterns_file"`
	OnDetection  struct {
		Action string `yaml:"action" json:"action"` // flag, alert, deny
		Alert  bool   `yaml:"alert" json:"alert"`
	} `yaml:"on_detection" json:"on_detection"`
}

// ScanResult is the outcome of scanning a prompt for governance-bypass
// and injection attempts. Severity is "" when Detected is false, and
// otherwise one of registry's closed RiskLevel values.
type ScanResult struct {
	Detected bool               `json:"detected"`
	Flags    []string           `json:"flags,omitempty"`
	Severity registry.RiskLevel `json:"severity,omitempty"`
	Details  string             `json:"details,omitempty"`
}

// Scanner checks prompts against the compiled pattern catalog.
type Scanner struct {
	mu       sync.RWMutex
	config   Config
	patterns []*compiledPattern
	logger   *slog.Logger
}

type compiledPattern struct {
	Name     string
	Regex    *regexp.Regexp
	Severity registry.RiskLevel
}

// riskRank orders registry.RiskLevel for "keep the worst match" scans;
// the zero value (no detection) always ranks below every real level.
var riskRank = map[registry.RiskLevel]int{
	registry.RiskCritical: 4,
	registry.RiskHigh:     3,
	registry.RiskMedium:   2,
	registry.RiskLow:      1,
}

// NewScanner creates a new scanner with the default pattern catalog.
func NewScanner(cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		config: cfg,
		logger: logger.With("component", "sanitize.Scanner"),
	}
	s.loadDefaultPatterns()
	return s
}

// Scan checks content against every compiled pattern and reports the
// highest-severity match, if any.
func (s *Scanner) Scan(content string) ScanResult {
	if !s.config.Enabled || content == "" {
		return ScanResult{}
	}

	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	var flags []string
	var highest registry.RiskLevel

	contentLower := strings.ToLower(content)

	for _, p := range patterns {
		if p.Regex.MatchString(contentLower) {
			flags = append(flags, p.Name)
			if riskRank[p.Severity] > riskRank[highest] {
				highest = p.Severity
			}
		}
	}

	if len(flags) == 0 {
		return ScanResult{}
	}

	return ScanResult{
		Detected: true,
		Flags:    flags,
		Severity: highest,
		Details:  strings.Join(flags, ", "),
	}
}

func (s *Scanner) loadDefaultPatterns() {
	rawPatterns := []struct {
		name     string
		pattern  string
		severity registry.RiskLevel
	}{
		// Attempts to talk the model into bypassing this control plane's
		// own governance components (C3/C5/C6/C7) — the category a
		// generic injection scanner has no reason to carry, specific to
		// a system that sits in front of a kill-switch, policy engine,
		// audit trail and approval workflow.
		{"disable_killswitch", `\b(disable|bypass|ignore)\s+(the\s+)?kill[\s-]?switch\b`, registry.RiskCritical},
		{"bypass_approval", `\bbypass\s+(the\s+)?approval\b`, registry.RiskCritical},
		{"self_approve", `\bapprove\s+(this|your(self)?|its\s+own)\s+(request|own)\b`, registry.RiskCritical},
		{"skip_policy_check", `\bskip\s+(the\s+)?polic(y|ies)\s+(check|evaluation)\b`, registry.RiskHigh},
		{"disable_audit", `\b(disable|stop|pause|silence)\s+(the\s+)?audit(\s+trail|\s+log(ging)?)?\b`, registry.RiskHigh},

		// Role confusion / instruction override.
		{"ignore_instructions", `ignore\s+(all\s+)?(previous|prior|above)\s+instructions`, registry.RiskCritical},
		{"system_override", `\bsystem\s*:\s*you\s+are\b`, registry.RiskCritical},
		{"disregard", `\bdisregard\s+(all\s+)?(previous|prior|safety)`, registry.RiskCritical},
		{"you_are_now", `\byou\s+are\s+now\b`, registry.RiskHigh},
		{"forget_rules", `\bforget\s+(all\s+)?(your\s+)?rules\b`, registry.RiskHigh},

		// Hidden instruction patterns.
		{"hidden_text", `\x{200B}|\x{200C}|\x{200D}|\x{FEFF}`, registry.RiskMedium},
		{"base64_instruction", `\bbase64\s*:\s*[A-Za-z0-9+/=]{20,}`, registry.RiskMedium},

		// Authority impersonation.
		{"admin_impersonation", `\b(admin|administrator|developer|system\s+admin)\s+(says?|requests?|commands?|instructs?)`, registry.RiskHigh},

		// Action directives and data exfiltration.
		{"delete_all", `\bdelete\s+(all|every)\b`, registry.RiskHigh},
		{"send_to", `\bsend\s+(this|it|data|information)\s+to\b`, registry.RiskMedium},
		{"exfil_pattern", `\b(send|post|upload|transmit|forward)\s+.{0,30}(data|info|credentials?|keys?|tokens?|passwords?)\s+to\b`, registry.RiskCritical},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rp := range rawPatterns {
		re, err := regexp.Compile(rp.pattern)
		if err != nil {
			s.logger.Warn("failed to compile injection pattern", "name", rp.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{
			Name:     rp.name,
			Regex:    re,
			Severity: rp.severity,
		})
	}
}
