package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// ParseSchedule turns a maintenance schedule string into a gocron job
// definition. Three spellings are accepted: a daily clock time ("03:30"),
// a standard cron expression, or a Go duration ("45m", "1h30m").
func ParseSchedule(spec string) (gocron.JobDefinition, error) {
	if hh, mm, ok := splitClock(spec); ok {
		return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hh, mm, 0))), nil
	}
	if _, err := cron.ParseStandard(spec); err == nil {
		return gocron.CronJob(spec, false), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return gocron.DurationJob(d), nil
	}
	return nil, fmt.Errorf("unrecognized schedule %q", spec)
}

// splitClock parses "HH:MM" into hour and minute components.
func splitClock(s string) (uint, uint, bool) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return uint(h), uint(m), true
}
