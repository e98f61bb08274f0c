package analysis

// Request is the wire contract between the API boundary and the queue
// worker. It is published as JSON with at-least-once delivery semantics,
// so consumers must tolerate duplicates. Attempt starts at 0 and is
// incremented each time the worker re-publishes the request for a retry.
type Request struct {
	AnalysisID   string `json:"analysis_id"`
	Query        string `json:"query"`
	ArtifactPath string `json:"artifact_path"`
	Attempt      int    `json:"attempt"`
}
