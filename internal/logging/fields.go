package logging

// Standardized attribute keys. Every log line that concerns a queue item or a
// pool should carry these so downstream filtering stays uniform.
const (
	FieldComponent = "component"
	FieldItemID    = "item_id"
	FieldTaskID    = "task_id"
	FieldBatchID   = "batch_id"
	FieldPool      = "pool"
	FieldStatus    = "status"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldPercent   = "percent"
	FieldQuality   = "quality"
)
