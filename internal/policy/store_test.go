package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

const validPolicy = `
evaluation_interval_seconds: 30
alert_thresholds:
  warning: 0.20
  critical: 0.10
sla_targets:
  enterprise:
    p0: { Response: 15, resolution: 240 }
  STANDARD:
    P2: { response: 480, resolution: 2880 }
escalation_levels:
  0: "No escalation"
  4: "Executive"
webhooks:
  slack:
    url: "${TEST_SLACK_URL}"
    channels:
      critical: "#oncall"
`

type recordingObserver struct {
	mu       sync.Mutex
	accepted int
	rejected int
}

func (o *recordingObserver) PolicyReloaded(accepted bool, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if accepted {
		o.accepted++
	} else {
		o.rejected++
	}
}

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "sla_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultSnapshot(t *testing.T) {
	snap := Default()

	assert.Equal(t, 0, snap.Version())
	assert.Equal(t, 15, snap.TargetMinutes(domain.SLADimensionResponse, domain.TicketPriorityP0, domain.CustomerTierEnterprise))
	assert.Equal(t, DefaultTargetMinutes, snap.TargetMinutes(domain.SLADimensionResponse, domain.TicketPriorityP3, domain.CustomerTierBasic))
	assert.InDelta(t, 15.0, snap.WarningPercentage(), 1e-9)
	assert.InDelta(t, 5.0, snap.CriticalPercentage(), 1e-9)
	assert.Equal(t, "No escalation", snap.EscalationLabel(domain.EscalationLevel0))
	assert.Equal(t, "Unknown", snap.EscalationLabel(domain.EscalationLevel3))
	_, ok := snap.SlackWebhook()
	assert.False(t, ok)
	assert.Equal(t, "#sla-alerts", snap.Channel(ChannelGeneral))
}

func TestReloadAcceptsValidDocument(t *testing.T) {
	t.Setenv("TEST_SLACK_URL", "https://hooks.example.com/T000/B000")
	path := writePolicy(t, t.TempDir(), validPolicy)
	obs := &recordingObserver{}
	store := NewStore(path, zap.NewNop(), obs)

	var notified []int
	store.Subscribe(func(_ context.Context, snap *Snapshot) error {
		notified = append(notified, snap.Version())
		return nil
	})

	snap, err := store.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Version())
	assert.Same(t, snap, store.Current())
	assert.Equal(t, []int{1}, notified)
	assert.Equal(t, 1, obs.accepted)

	assert.Equal(t, 15, snap.TargetMinutes(domain.SLADimensionResponse, domain.TicketPriorityP0, domain.CustomerTierEnterprise), "keys are normalized")
	assert.Equal(t, 2880, snap.TargetMinutes(domain.SLADimensionResolution, domain.TicketPriorityP2, domain.CustomerTierStandard))
	assert.Equal(t, DefaultTargetMinutes, snap.TargetMinutes(domain.SLADimensionResponse, domain.TicketPriorityP1, domain.CustomerTierPremium))
	assert.InDelta(t, 20.0, snap.WarningPercentage(), 1e-9)
	assert.InDelta(t, 10.0, snap.CriticalPercentage(), 1e-9)
	assert.Equal(t, 30*time.Second, snap.EvaluationInterval())
	assert.Equal(t, "Executive", snap.EscalationLabel(domain.EscalationLevel4))

	target, ok := snap.SlackWebhook()
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.com/T000/B000", target.URL)
	assert.Equal(t, "#oncall", snap.Channel(ChannelCritical))
	assert.Equal(t, "#sla-alerts", snap.Channel(ChannelGeneral))
}

func TestReloadIdenticalDocumentKeepsVersion(t *testing.T) {
	path := writePolicy(t, t.TempDir(), validPolicy)
	store := NewStore(path, zap.NewNop(), nil)

	first, err := store.Reload(context.Background())
	require.NoError(t, err)
	second, err := store.Reload(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.Current().Version())
}

func TestReloadRejectsMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, validPolicy)
	obs := &recordingObserver{}
	store := NewStore(path, zap.NewNop(), obs)
	good, err := store.Reload(context.Background())
	require.NoError(t, err)

	cases := map[string]string{
		"syntax":            "sla_targets: [unterminated",
		"empty":             "   \n",
		"unknown field":     validPolicy + "\nsurprise: true\n",
		"inverted":          "alert_thresholds: {warning: 0.05, critical: 0.15}\nsla_targets: {BASIC: {P0: {response: 1}}}\n",
		"bad tier":          "sla_targets: {GOLD: {P0: {response: 10}}}\n",
		"bad dimension":     "sla_targets: {BASIC: {P0: {reply: 10}}}\n",
		"non-positive":      "sla_targets: {BASIC: {P0: {response: 0}}}\n",
		"no targets":        "alert_thresholds: {warning: 0.2, critical: 0.1}\n",
		"bad level":         "sla_targets: {BASIC: {P0: {response: 10}}}\nescalation_levels: {9: nope}\n",
		"bad channel key":   "sla_targets: {BASIC: {P0: {response: 10}}}\nwebhooks: {slack: {channels: {urgent: '#x'}}}\n",
		"bad interval":      "evaluation_interval_seconds: -5\nsla_targets: {BASIC: {P0: {response: 10}}}\n",
		"threshold above 1": "alert_thresholds: {warning: 15, critical: 5}\nsla_targets: {BASIC: {P0: {response: 10}}}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			writePolicy(t, dir, body)

			snap, err := store.Reload(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeConfig))
			assert.Same(t, good, snap)
			assert.Same(t, good, store.Current())
		})
	}
	assert.Equal(t, len(cases), obs.rejected)
}

func TestReloadMissingFileKeepsDefault(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop(), nil)

	_, err := store.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfig))
	assert.Equal(t, "default", store.Current().Source())
}

func TestSubscriberErrorDoesNotRollBack(t *testing.T) {
	path := writePolicy(t, t.TempDir(), validPolicy)
	store := NewStore(path, zap.NewNop(), nil)
	store.Subscribe(func(context.Context, *Snapshot) error { return errors.New("history write failed") })

	snap, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, store.Current())
}

func TestUnsetWebhookVariableExpandsEmpty(t *testing.T) {
	t.Setenv("TEST_SLACK_URL", "")
	snap, err := Parse([]byte(validPolicy))
	require.NoError(t, err)

	_, ok := snap.SlackWebhook()
	assert.False(t, ok)
}

func TestViewHidesWebhookURL(t *testing.T) {
	t.Setenv("TEST_SLACK_URL", "https://hooks.example.com/secret")
	snap, err := Parse([]byte(validPolicy))
	require.NoError(t, err)

	view := snap.View()
	assert.True(t, view.WebhookConfigured)
	assert.Equal(t, 15, view.SLATargets["ENTERPRISE"]["P0"]["response"])
	assert.InDelta(t, 0.2, view.AlertThresholds[ThresholdWarning], 1e-9)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, validPolicy)
	store := NewStore(path, zap.NewNop(), nil)
	_, err := store.Reload(context.Background())
	require.NoError(t, err)

	w, err := NewWatcher(store, zap.NewNop(), 20*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writePolicy(t, dir, "sla_targets: {BASIC: {P0: {response: 99}}}\n")

	require.Eventually(t, func() bool {
		return store.Current().Version() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 99, store.Current().TargetMinutes(domain.SLADimensionResponse, domain.TicketPriorityP0, domain.CustomerTierBasic))
}
