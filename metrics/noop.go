package metrics

import "time"

type NoopMetrics struct{}

var _ Metricer = NoopMetrics{}

func (NoopMetrics) RecordSubmission(string, time.Duration) {}
func (NoopMetrics) RecordBroadcast()                       {}
func (NoopMetrics) RecordResubmission()                    {}
func (NoopMetrics) RecordLockWait(time.Duration, bool)     {}
func (NoopMetrics) RecordFinalizationTimeout()             {}
func (NoopMetrics) RecordReorg()                           {}
