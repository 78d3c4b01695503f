package crawler

import (
	"time"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/models"
)

// LogObserver renders progress snapshots and failure reports to the log.
// Snapshots arrive on every state change, so identical consecutive lines
// within the throttle window are dropped.
type LogObserver struct {
	log      *logrus.Entry
	throttle time.Duration

	lastStage models.Stage
	lastEmit  time.Time
}

// NewLogObserver throttles per-item progress lines to one per interval;
// stage transitions always log.
func NewLogObserver(log *logrus.Entry, throttle time.Duration) *LogObserver {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	return &LogObserver{log: log, throttle: throttle}
}

func (o *LogObserver) OnProgress(p models.ProgressSnapshot) {
	stageChanged := p.Stage != o.lastStage
	if !stageChanged && time.Since(o.lastEmit) < o.throttle && p.Percentage < 100 {
		return
	}
	o.lastStage = p.Stage
	o.lastEmit = time.Now()

	fields := logrus.Fields{
		"stage":   p.Stage,
		"current": p.Current,
		"total":   p.Total,
	}
	if p.Total > 0 {
		fields["pct"] = int(p.Percentage)
	}
	if p.RemainingTime > 0 {
		fields["eta"] = p.RemainingTime.Round(time.Second).String()
	}
	if p.Message != "" {
		fields["message"] = p.Message
	}
	o.log.WithFields(fields).Info("Progress")
}

func (o *LogObserver) OnFailureReport(r models.FailureReport) {
	if len(r.Pages) == 0 && len(r.Items) == 0 {
		return
	}
	o.log.WithFields(logrus.Fields{
		"stage":        r.Stage,
		"failed_pages": len(r.Pages),
		"failed_items": len(r.Items),
	}).Warn("Unrecovered failures after retries")
	for _, p := range r.Pages {
		o.log.WithField("page", p.PageNumber).Warnf("Page gave up after %d attempts: %s", len(p.Errors), p.Errors[len(p.Errors)-1])
	}
	for _, it := range r.Items {
		o.log.WithField("url", it.URL).Warnf("Product gave up after %d attempts: %s", len(it.Errors), it.Errors[len(it.Errors)-1])
	}
}
