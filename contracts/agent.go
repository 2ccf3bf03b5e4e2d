package contracts

// AgentStatus is the outcome an Agent reports for a single step execution.
type AgentStatus string

const (
	AgentOK      AgentStatus = "OK"
	AgentPartial AgentStatus = "PARTIAL"
	AgentFail    AgentStatus = "FAIL"
)

// ArtifactEntry is one artifact an agent produced during a step. Ref, when
// present, makes auto-indexing idempotent across duplicate deliveries of the
// same AgentResponse; when absent the Engine mints a fresh id per entry.
type ArtifactEntry struct {
	Type string         `json:"type"`
	Ref  string         `json:"ref,omitempty"`
	URL  string         `json:"url,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// AgentResponse is the envelope an Agent returns for a single step
// execution and the Dispatcher forwards to the Engine via agentCompleted.
type AgentResponse struct {
	GoalID     string          `json:"goalId"`
	WorkflowID string          `json:"workflowId"`
	StepID     string          `json:"stepId"`
	RunID      string          `json:"runId"`
	AgentRole  string          `json:"agentRole"`
	Status     AgentStatus     `json:"status"`
	Content    any             `json:"content,omitempty"`
	Artifacts  []ArtifactEntry `json:"artifacts,omitempty"`
	Metrics    map[string]any  `json:"metrics,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
}
