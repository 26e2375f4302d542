package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/sla-service/internal/domain"
)

type document struct {
	EvaluationIntervalSeconds int                                  `yaml:"evaluation_interval_seconds" validate:"omitempty,min=1,max=86400"`
	AlertThresholds           thresholds                           `yaml:"alert_thresholds"`
	SLATargets                map[string]map[string]map[string]int `yaml:"sla_targets"`
	EscalationLevels          map[int]string                       `yaml:"escalation_levels" validate:"dive,keys,min=0,max=4,endkeys,required"`
	Webhooks                  webhooks                             `yaml:"webhooks"`
}

type thresholds struct {
	Warning  float64 `yaml:"warning" validate:"gt=0,lt=1,gtfield=Critical"`
	Critical float64 `yaml:"critical" validate:"gt=0,lt=1"`
}

type webhooks struct {
	Slack slackWebhook `yaml:"slack"`
}

type slackWebhook struct {
	URL      string            `yaml:"url" validate:"omitempty,url"`
	Channels map[string]string `yaml:"channels" validate:"dive,keys,oneof=general critical,endkeys,required"`
}

const targetsRule = "required,min=1," +
	"dive,keys,oneof=ENTERPRISE PREMIUM STANDARD BASIC,endkeys,required," +
	"dive,keys,oneof=P0 P1 P2 P3,endkeys,required," +
	"dive,keys,oneof=response resolution,endkeys,gt=0"

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Parse decodes, normalizes and validates a YAML policy document. The
// returned snapshot carries no version; the Store assigns one on accept.
func Parse(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("policy document is empty")
	}

	doc := document{
		AlertThresholds: thresholds{Warning: 0.15, Critical: 0.05},
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	targets := normalizeTargets(doc.SLATargets)
	doc.Webhooks.Slack.URL = expandEnv(doc.Webhooks.Slack.URL)

	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	if err := validate.Var(targets, targetsRule); err != nil {
		return nil, fmt.Errorf("validate sla_targets: %w", err)
	}

	sum := sha256.Sum256(data)
	snap := &Snapshot{
		checksum:         hex.EncodeToString(sum[:]),
		raw:              append([]byte(nil), data...),
		targets:          make(map[domain.CustomerTier]map[domain.TicketPriority]map[domain.SLADimension]int, len(targets)),
		warning:          doc.AlertThresholds.Warning,
		critical:         doc.AlertThresholds.Critical,
		escalationLabels: make(map[int]string, len(doc.EscalationLevels)),
		slack: WebhookTarget{
			URL:      doc.Webhooks.Slack.URL,
			Channels: make(map[string]string, len(doc.Webhooks.Slack.Channels)),
		},
		interval: time.Duration(doc.EvaluationIntervalSeconds) * time.Second,
	}
	for tier, byPriority := range targets {
		tt := make(map[domain.TicketPriority]map[domain.SLADimension]int, len(byPriority))
		for priority, byDim := range byPriority {
			pd := make(map[domain.SLADimension]int, len(byDim))
			for dim, minutes := range byDim {
				pd[domain.SLADimension(dim)] = minutes
			}
			tt[domain.TicketPriority(priority)] = pd
		}
		snap.targets[domain.CustomerTier(tier)] = tt
	}
	for level, label := range doc.EscalationLevels {
		snap.escalationLabels[level] = label
	}
	for key, ch := range doc.Webhooks.Slack.Channels {
		snap.slack.Channels[key] = ch
	}
	return snap, nil
}

// normalizeTargets upper-cases tier and priority keys and lower-cases dimensions.
func normalizeTargets(in map[string]map[string]map[string]int) map[string]map[string]map[string]int {
	out := make(map[string]map[string]map[string]int, len(in))
	for tier, byPriority := range in {
		tierKey := strings.ToUpper(strings.TrimSpace(tier))
		tt, ok := out[tierKey]
		if !ok {
			tt = make(map[string]map[string]int, len(byPriority))
			out[tierKey] = tt
		}
		for priority, byDim := range byPriority {
			priorityKey := strings.ToUpper(strings.TrimSpace(priority))
			pd, ok := tt[priorityKey]
			if !ok {
				pd = make(map[string]int, len(byDim))
				tt[priorityKey] = pd
			}
			for dim, minutes := range byDim {
				pd[strings.ToLower(strings.TrimSpace(dim))] = minutes
			}
		}
	}
	return out
}

// expandEnv replaces ${VAR} placeholders with the environment value, empty when unset.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
