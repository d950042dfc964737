package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/health"
)

// Prober makes a health-check call against the backend.
type Prober interface {
	Probe(ctx context.Context) (health.Report, error)
}

// StartProbe schedules periodic health probes. The schedule is a standard
// cron expression or a descriptor such as "@every 5m". An empty schedule
// disables probing and returns a nil stop function.
func StartProbe(schedule string, p Prober, timeout time.Duration) (stop func(), err error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		logrus.Info("Health probe disabled (health.probe_schedule not set)")
		return nil, nil
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, func() { runProbe(p, timeout) })
	if err != nil {
		return nil, fmt.Errorf("invalid health.probe_schedule %q: %w", schedule, err)
	}
	c.Start()
	logrus.Infof("Health probe scheduled (%s)", schedule)

	return func() {
		<-c.Stop().Done()
	}, nil
}

func runProbe(p Prober, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := p.Probe(ctx)
	if err != nil {
		logrus.Warnf("Health probe failed: %v (status %s)", err, report.Status)
		return
	}
	logrus.Debugf("Health probe ok: %s, median latency %s", report.Status, report.MedianLatency)
}
