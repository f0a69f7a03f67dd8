package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
)

// Structured log field keys.
const (
	TraceId        string = "trace_id"
	RequestId      string = "request_id"
	IdempotencyKey string = "idempotency_key"
	OrderID        string = "order_id"
	Carrier        string = "carrier"
	RuleID         string = "rule_id"
	DisputeType    string = "dispute_type"
	ClaimID        string = "claim_id"
	ClaimReference string = "claim_reference"
	Step           string = "step"
)

// Workflow step names recorded on a WorkflowResult.
const (
	StepEvidenceAnalysis   string = "evidence_analysis"
	StepClaimGeneration    string = "claim_generation"
	StepClaimSubmission    string = "claim_submission"
	StepTrackingSetup      string = "tracking_setup"
	StepStateUpdate        string = "state_update"
	StepClientNotification string = "client_notification"
)
