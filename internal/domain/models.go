package domain

import "time"

// WatchStatus is the live state of the vacancy watch. A single instance
// exists per process; the watch package serializes every mutation.
type WatchStatus struct {
	Running       bool       `json:"running"`
	LastCheckTime *time.Time `json:"last_check_time,omitempty"`
	LastResult    string     `json:"last_result,omitempty"`
	TotalChecks   uint64     `json:"total_checks"`
}

// LogEntry is one immutable record of a check or delivery outcome.
// Entries with Found set survive retention forever.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
	Found       bool      `json:"found"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
}

// ScheduleConfig carries the timing settings for an armed watch. The config
// layer enforces the interval floor before a ScheduleConfig reaches the
// scheduler.
type ScheduleConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds" json:"interval_seconds"`
	Headless        bool `yaml:"headless" json:"headless"`
}

// Interval converts the configured seconds into a ticker period.
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SearchParams describe one vacancy search against the external housing
// form. Fields maps form field names to submitted values. FoundMarkers and
// NotFoundMarkers classify the response page; a page matching neither set is
// treated as a probe failure, never as a silent not-found.
type SearchParams struct {
	FormURL         string            `yaml:"form_url" json:"form_url"`
	Fields          map[string]string `yaml:"fields" json:"fields,omitempty"`
	FoundMarkers    []string          `yaml:"found_markers" json:"found_markers,omitempty"`
	NotFoundMarkers []string          `yaml:"not_found_markers" json:"not_found_markers,omitempty"`
}
