// Package events provides in-process event publication for the allocator.
package events

// EventType identifies a kind of event.
type EventType string

const (
	// RebalanceCompleted is emitted after every persisted rebalance run
	RebalanceCompleted EventType = "REBALANCE_COMPLETED"
	// RiskProfileScored is emitted after a questionnaire is scored
	RiskProfileScored EventType = "RISK_PROFILE_SCORED"
	// BehaviorClassified is emitted after a trade action is classified
	BehaviorClassified EventType = "BEHAVIOR_CLASSIFIED"
	// BackupCompleted is emitted after a database backup is uploaded
	BackupCompleted EventType = "BACKUP_COMPLETED"
	// MaintenanceCompleted is emitted after the daily maintenance job
	MaintenanceCompleted EventType = "MAINTENANCE_COMPLETED"
	// ErrorOccurred is emitted for errors worth surfacing to operators
	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type in a stable order.
func AllEventTypes() []EventType {
	return []EventType{
		RebalanceCompleted,
		RiskProfileScored,
		BehaviorClassified,
		BackupCompleted,
		MaintenanceCompleted,
		ErrorOccurred,
	}
}
