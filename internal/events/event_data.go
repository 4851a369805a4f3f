package events

// EventData is implemented by every typed event payload.
type EventData interface {
	EventType() EventType
}

// RebalanceCompletedData contains data for RebalanceCompleted events
type RebalanceCompletedData struct {
	RunID            string  `json:"run_id"`
	RequestType      string  `json:"request_type"`
	Tiers            int     `json:"tiers"`
	Strategies       int     `json:"strategies"`
	DriftCorrections int     `json:"drift_corrections"`
	MaxAbsChange     float64 `json:"max_abs_change"`
	DurationMs       float64 `json:"duration_ms"`
	Persisted        bool    `json:"persisted"`
}

// EventType returns the event type for RebalanceCompletedData
func (d *RebalanceCompletedData) EventType() EventType {
	return RebalanceCompleted
}

// RiskProfileScoredData contains data for RiskProfileScored events
type RiskProfileScoredData struct {
	Questions  int    `json:"questions"`
	LowRisk    int    `json:"low_risk"`
	MediumRisk int    `json:"medium_risk"`
	HighRisk   int    `json:"high_risk"`
	Attempts   int    `json:"attempts"`
	Model      string `json:"model"`
}

// EventType returns the event type for RiskProfileScoredData
func (d *RiskProfileScoredData) EventType() EventType {
	return RiskProfileScored
}

// BehaviorClassifiedData contains data for BehaviorClassified events
type BehaviorClassifiedData struct {
	Label  string `json:"label"`
	Score  int    `json:"score"`
	Bucket string `json:"bucket"`
}

// EventType returns the event type for BehaviorClassifiedData
func (d *BehaviorClassifiedData) EventType() EventType {
	return BehaviorClassified
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key        string  `json:"key"`
	SizeBytes  int64   `json:"size_bytes"`
	Checksum   string  `json:"checksum"`
	Rotated    int     `json:"rotated"`
	DurationMs float64 `json:"duration_ms"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// MaintenanceCompletedData contains data for MaintenanceCompleted events
type MaintenanceCompletedData struct {
	RunsDeleted   int64   `json:"runs_deleted"`
	DiskFreeBytes uint64  `json:"disk_free_bytes,omitempty"`
	DurationMs    float64 `json:"duration_ms"`
}

// EventType returns the event type for MaintenanceCompletedData
func (d *MaintenanceCompletedData) EventType() EventType {
	return MaintenanceCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
