package metrics

// Metric names
const (
	MetricNameUploadsTotal         = "argosy_sync_uploads_total"
	MetricNameDownloadsTotal       = "argosy_sync_downloads_total"
	MetricNamePreLaunchDecisions   = "argosy_sync_prelaunch_decisions_total"
	MetricNameHardcoreResolutions  = "argosy_sync_hardcore_resolutions_total"
	MetricNameSnapshotsCreated     = "argosy_snapshots_created_total"
	MetricNameSnapshotsPruned      = "argosy_snapshots_pruned_total"
	MetricNameQueueProcessed       = "argosy_sync_queue_processed_total"
	MetricNameQueueDepth           = "argosy_sync_queue_depth"
	MetricNameRemoteRequests       = "argosy_remote_requests_total"
	MetricNameRemoteRequestSeconds = "argosy_remote_request_duration_seconds"
)

// Help texts
const (
	HelpTextUploadsTotal         = "Upload attempts by result"
	HelpTextDownloadsTotal       = "Download attempts by result"
	HelpTextPreLaunchDecisions   = "Pre-launch sync decisions by outcome"
	HelpTextHardcoreResolutions  = "Hardcore mismatch resolutions by choice"
	HelpTextSnapshotsCreated     = "Snapshot create requests by status"
	HelpTextSnapshotsPruned      = "Snapshots deleted by retention pruning"
	HelpTextQueueProcessed       = "Pending upload queue entries processed by outcome"
	HelpTextQueueDepth           = "Entries currently in the pending upload queue"
	HelpTextRemoteRequests       = "Requests sent to the save server by operation and status"
	HelpTextRemoteRequestSeconds = "Save server request latency in seconds"
)

// Label names
const (
	LabelResult    = "result"
	LabelOutcome   = "outcome"
	LabelChoice    = "choice"
	LabelStatus    = "status"
	LabelOperation = "operation"
)
