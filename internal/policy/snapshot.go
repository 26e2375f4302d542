// Package policy owns the hot-reloadable SLA policy: target minutes, alert
// thresholds, escalation labels and notification routing.
package policy

import (
	"time"

	"github.com/spec-kit/sla-service/internal/domain"
)

// DefaultTargetMinutes is returned when no target matches a lookup.
const DefaultTargetMinutes = 1440

// Alert threshold levels.
const (
	ThresholdWarning  = "warning"
	ThresholdCritical = "critical"
)

// Notification channel keys.
const (
	ChannelGeneral  = "general"
	ChannelCritical = "critical"
)

var defaultChannels = map[string]string{
	ChannelGeneral:  "#sla-alerts",
	ChannelCritical: "#sla-critical",
}

// WebhookTarget is a resolved notification endpoint.
type WebhookTarget struct {
	URL      string            `json:"-"`
	Channels map[string]string `json:"channels"`
}

// Snapshot is one immutable, validated policy. Never mutate a Snapshot after
// it has been published by a Store.
type Snapshot struct {
	version  int
	source   string
	checksum string
	loadedAt time.Time
	raw      []byte

	targets          map[domain.CustomerTier]map[domain.TicketPriority]map[domain.SLADimension]int
	warning          float64
	critical         float64
	escalationLabels map[int]string
	slack            WebhookTarget
	interval         time.Duration
}

// Version is the store-assigned sequence number; 0 is the built-in default.
func (s *Snapshot) Version() int { return s.version }

// Source names where the snapshot came from.
func (s *Snapshot) Source() string { return s.source }

// Checksum is the sha256 of the raw document.
func (s *Snapshot) Checksum() string { return s.checksum }

// LoadedAt is when the snapshot was accepted.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Raw returns a copy of the source document.
func (s *Snapshot) Raw() []byte {
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// TargetMinutes looks up the target for (dimension, priority, tier), falling
// back to DefaultTargetMinutes.
func (s *Snapshot) TargetMinutes(dim domain.SLADimension, priority domain.TicketPriority, tier domain.CustomerTier) int {
	if byPriority, ok := s.targets[tier]; ok {
		if byDim, ok := byPriority[priority]; ok {
			if minutes, ok := byDim[dim]; ok {
				return minutes
			}
		}
	}
	return DefaultTargetMinutes
}

// AlertThreshold returns the named threshold as a percentage of target.
func (s *Snapshot) AlertThreshold(level string) float64 {
	switch level {
	case ThresholdCritical:
		return s.critical * 100
	case ThresholdWarning:
		return s.warning * 100
	default:
		return s.warning * 100
	}
}

// WarningPercentage is AlertThreshold(ThresholdWarning).
func (s *Snapshot) WarningPercentage() float64 { return s.AlertThreshold(ThresholdWarning) }

// CriticalPercentage is AlertThreshold(ThresholdCritical).
func (s *Snapshot) CriticalPercentage() float64 { return s.AlertThreshold(ThresholdCritical) }

// EscalationLabel returns the display name for level, or "Unknown".
func (s *Snapshot) EscalationLabel(level domain.EscalationLevel) string {
	if label, ok := s.escalationLabels[int(level)]; ok {
		return label
	}
	return "Unknown"
}

// SlackWebhook returns the resolved Slack target; ok is false when no URL is configured.
func (s *Snapshot) SlackWebhook() (WebhookTarget, bool) {
	return s.slack, s.slack.URL != ""
}

// Channel returns the channel configured for key, or the built-in default.
func (s *Snapshot) Channel(key string) string {
	if ch, ok := s.slack.Channels[key]; ok && ch != "" {
		return ch
	}
	return defaultChannels[key]
}

// EvaluationInterval is the sweep cadence; zero means "use the process default".
func (s *Snapshot) EvaluationInterval() time.Duration { return s.interval }

// View is the read-only JSON representation served to operators.
type View struct {
	Version                   int                                  `json:"version"`
	Source                    string                               `json:"source"`
	Checksum                  string                               `json:"checksum"`
	LoadedAt                  time.Time                            `json:"loaded_at"`
	SLATargets                map[string]map[string]map[string]int `json:"sla_targets"`
	AlertThresholds           map[string]float64                   `json:"alert_thresholds"`
	EscalationLevels          map[int]string                       `json:"escalation_levels"`
	WebhookConfigured         bool                                 `json:"webhook_configured"`
	Channels                  map[string]string                    `json:"channels"`
	EvaluationIntervalSeconds int                                  `json:"evaluation_interval_seconds"`
}

// View renders the snapshot without secrets.
func (s *Snapshot) View() View {
	targets := make(map[string]map[string]map[string]int, len(s.targets))
	for tier, byPriority := range s.targets {
		tt := make(map[string]map[string]int, len(byPriority))
		for priority, byDim := range byPriority {
			pd := make(map[string]int, len(byDim))
			for dim, minutes := range byDim {
				pd[string(dim)] = minutes
			}
			tt[string(priority)] = pd
		}
		targets[string(tier)] = tt
	}
	labels := make(map[int]string, len(s.escalationLabels))
	for k, v := range s.escalationLabels {
		labels[k] = v
	}
	return View{
		Version:           s.version,
		Source:            s.source,
		Checksum:          s.checksum,
		LoadedAt:          s.loadedAt,
		SLATargets:        targets,
		AlertThresholds:   map[string]float64{ThresholdWarning: s.warning, ThresholdCritical: s.critical},
		EscalationLevels:  labels,
		WebhookConfigured: s.slack.URL != "",
		Channels: map[string]string{
			ChannelGeneral:  s.Channel(ChannelGeneral),
			ChannelCritical: s.Channel(ChannelCritical),
		},
		EvaluationIntervalSeconds: int(s.interval / time.Second),
	}
}

// Default is the minimal built-in policy used until a document is accepted.
func Default() *Snapshot {
	return &Snapshot{
		source: "default",
		targets: map[domain.CustomerTier]map[domain.TicketPriority]map[domain.SLADimension]int{
			domain.CustomerTierEnterprise: {
				domain.TicketPriorityP0: {
					domain.SLADimensionResponse:   15,
					domain.SLADimensionResolution: 240,
				},
			},
		},
		warning:          0.15,
		critical:         0.05,
		escalationLabels: map[int]string{0: "No escalation"},
		slack:            WebhookTarget{Channels: map[string]string{}},
	}
}
