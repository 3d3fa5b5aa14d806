// Package dedupevents defines the topics and payloads of the duplicate
// detector.
package dedupevents

// Topics.
const (
	ScanCompleted = "dedup.scan.completed"
)

// ScanCompletedPayload summarizes one detector run.
type ScanCompletedPayload struct {
	CorrelationID string `json:"correlation_id"`
	GroupsScanned int    `json:"groups_scanned"`
	CasesEmitted  int    `json:"cases_emitted"`
}
