package browseflow

// Scratch keys shared by the engine, the standard executors and the
// workflow manager.
const (
	KeyGoal                = "goal"
	KeyStartTime           = "start_time"
	KeyBrowserState        = "browser_state"
	KeyPlannedActions      = "planned_actions"
	KeyThoughtProcess      = "thought_process"
	KeyActionResults       = "action_results"
	KeyLastActionTimestamp = "last_action_timestamp"
	KeyValidationSuccess   = "validation_success"
	KeyFailedActions       = "failed_actions"
	KeyNeedsRetry          = "needs_retry"
	KeyRetryStrategy       = "retry_strategy"
	KeyRetryCount          = "retry_count"
	KeyNeedsUserInput      = "needs_user_input"
	KeyInputPrompt         = "input_prompt"
	KeyInputType           = "input_type"
	KeyInputOptions        = "input_options"
	KeyInputMetadata       = "input_metadata"
	KeyUserInput           = "user_input"
	KeyInputReceived       = "input_received"
	KeyInputTimestamp      = "input_timestamp"
	KeyError               = "error"
	KeyErrorNode           = "error_node"
	KeyErrorCode           = "error_code"
	KeyErrorDisposition    = "error_disposition"
)

// DefaultInputPrompt is used when neither the node nor the scratch state
// supplies a prompt.
const DefaultInputPrompt = "Please provide input"
