package alert

import (
	"strings"

	"midas/internal/logger"
)

// Alerter fans an operator alert out to the log and, when text alerts are
// enabled, to the configured notifier. Divergences it reports (reconciliation
// mismatches, fill give-ups, capital breaches) are never auto-corrected, so
// the message is the operator's only signal.
type Alerter struct {
	Notifier   TextNotifier
	TextAlerts bool
}

func NewAlerter(n TextNotifier, textAlerts bool) *Alerter {
	return &Alerter{Notifier: n, TextAlerts: textAlerts}
}

// Alert logs the full message and texts its last line.
func (a *Alerter) Alert(msg string) {
	logger.Errorf("alert: %s", msg)
	if a == nil || !a.TextAlerts || a.Notifier == nil {
		return
	}
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	if err := a.Notifier.SendText(lines[len(lines)-1]); err != nil {
		logger.Warnf("alert: sms send failed: %v", err)
	}
}
