package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// RemediationPack maps SLA violation types and severities to deterministic
// remediation actions. Rules load from a YAML pack; lookups fall back to
// built-in tables so MonitorSLA never returns an empty remediation for a
// violation.
type RemediationPack struct {
	rules  []RemediationRule
	logger *slog.Logger
}

// RemediationRule binds actions to a violation type and optional severity.
type RemediationRule struct {
	ViolationType string   `yaml:"violationType"`
	Severity      string   `yaml:"severity"`
	Immediate     []string `yaml:"immediate"`
	LongTerm      []string `yaml:"longTerm"`
}

// remediationFile is the YAML root structure.
type remediationFile struct {
	Rules []RemediationRule `yaml:"rules"`
}

// NewRemediationPack loads rules from the provided path. An empty or missing
// path yields a pack that serves only the built-in defaults.
func NewRemediationPack(path string, logger *slog.Logger) (*RemediationPack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pack := &RemediationPack{logger: logger}
	if path == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("remediation pack not found, using defaults", slog.String("path", path))
			return pack, nil
		}
		return nil, err
	}

	var file remediationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	pack.rules = file.Rules
	return pack, nil
}

// Lookup resolves remediation actions for a violation type and severity.
// Precedence: exact (type, severity) rule, then type-only rule, then the
// built-in table.
func (p *RemediationPack) Lookup(violationType string, severity models.SLASeverity) models.Remediation {
	if p != nil {
		if rem, ok := p.match(violationType, string(severity)); ok {
			return rem
		}
		if rem, ok := p.match(violationType, ""); ok {
			return rem
		}
	}
	return defaultRemediation(violationType, severity)
}

func (p *RemediationPack) match(violationType, severity string) (models.Remediation, bool) {
	for _, rule := range p.rules {
		if !strings.EqualFold(rule.ViolationType, violationType) {
			continue
		}
		if rule.Severity != "" && !strings.EqualFold(rule.Severity, severity) {
			continue
		}
		if len(rule.Immediate) == 0 && len(rule.LongTerm) == 0 {
			continue
		}
		return models.Remediation{
			ImmediateActions: append([]string(nil), rule.Immediate...),
			LongTermActions:  append([]string(nil), rule.LongTerm...),
		}, true
	}
	return models.Remediation{}, false
}

func defaultRemediation(violationType string, severity models.SLASeverity) models.Remediation {
	rem := models.Remediation{}

	switch strings.ToLower(violationType) {
	case "availability":
		rem.ImmediateActions = []string{
			"Check recent pipeline runs for systemic failures",
			"Verify runner and executor health",
		}
		rem.LongTermActions = []string{
			"Add redundancy for flaky pipeline stages",
			"Review failure budget allocation with the owning team",
		}
	case "performance":
		rem.ImmediateActions = []string{
			"Investigate resource contention on build agents",
			"Compare against the last known-good run for regressions",
		}
		rem.LongTermActions = []string{
			"Profile the slowest pipeline stages",
			"Introduce caching for dependency resolution",
		}
	case "error-budget", "error_rate":
		rem.ImmediateActions = []string{
			"Freeze non-essential deployments until the budget recovers",
			"Triage the dominant failure class",
		}
		rem.LongTermActions = []string{
			"Tighten pre-merge validation for the failing stages",
		}
	default:
		rem.ImmediateActions = []string{
			"Review the breaching metric against its recent history",
		}
		rem.LongTermActions = []string{
			"Revisit the SLA target with stakeholders",
		}
	}

	if severity == models.SLACritical {
		rem.ImmediateActions = append([]string{"Page the on-call owner for the affected pipeline"}, rem.ImmediateActions...)
	}

	return rem
}
