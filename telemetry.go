package main

import "sync/atomic"

// telemetry implements the session metrics surface with atomic counters.
// Snapshot is read by /diagnostics without stopping the pipeline.
type telemetry struct {
	connects       atomic.Uint64
	disconnects    atomic.Uint64
	broadcasts     atomic.Uint64
	broadcastBytes atomic.Uint64
	logLines       atomic.Uint64
	chatEntries    atomic.Uint64
	ruleViolations atomic.Uint64
	storeErrors    atomic.Uint64
}

func newTelemetry() *telemetry {
	return &telemetry{}
}

func (t *telemetry) RecordConnect()    { t.connects.Add(1) }
func (t *telemetry) RecordDisconnect() { t.disconnects.Add(1) }

func (t *telemetry) RecordBroadcast(bytes int) {
	t.broadcasts.Add(1)
	t.broadcastBytes.Add(uint64(bytes))
}

func (t *telemetry) RecordLogLines(n int) {
	if n > 0 {
		t.logLines.Add(uint64(n))
	}
}

func (t *telemetry) RecordChatEntries(n int) {
	if n > 0 {
		t.chatEntries.Add(uint64(n))
	}
}

func (t *telemetry) RecordRuleViolation() { t.ruleViolations.Add(1) }
func (t *telemetry) RecordStoreError()    { t.storeErrors.Add(1) }

type telemetrySnapshot struct {
	Connects       uint64 `json:"connects"`
	Disconnects    uint64 `json:"disconnects"`
	Broadcasts     uint64 `json:"broadcasts"`
	BroadcastBytes uint64 `json:"broadcastBytes"`
	LogLines       uint64 `json:"logLines"`
	ChatEntries    uint64 `json:"chatEntries"`
	RuleViolations uint64 `json:"ruleViolations"`
	StoreErrors    uint64 `json:"storeErrors"`
}

func (t *telemetry) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		Connects:       t.connects.Load(),
		Disconnects:    t.disconnects.Load(),
		Broadcasts:     t.broadcasts.Load(),
		BroadcastBytes: t.broadcastBytes.Load(),
		LogLines:       t.logLines.Load(),
		ChatEntries:    t.chatEntries.Load(),
		RuleViolations: t.ruleViolations.Load(),
		StoreErrors:    t.storeErrors.Load(),
	}
}
