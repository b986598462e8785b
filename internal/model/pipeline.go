package model

// PipelineState is the state of a multi-step pipeline.
type PipelineState string

const (
	StateIdle       PipelineState = "Idle"
	StateCompiling  PipelineState = "Compiling"
	StateAligning   PipelineState = "Aligning"
	StateSigning    PipelineState = "Signing"
	StateVerifying  PipelineState = "Verifying"
	StateCleaningUp PipelineState = "CleaningUp"
	StateSucceeded  PipelineState = "Succeeded"
	StateFailed     PipelineState = "Failed"
	StateCancelled  PipelineState = "Cancelled"
)

// Terminal reports whether no further transition is possible.
func (s PipelineState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Step is one process invocation inside a pipeline.
type Step struct {
	Label   string
	Command string
	Dir     string
	Env     map[string]string
	// State is the pipeline state entered while the step runs.
	State PipelineState
	// Precondition is checked before spawning. A non nil error fails the
	// pipeline without running the step.
	Precondition func() error
	// Prepare runs after the precondition and before spawning.
	Prepare func() error
	// Sensitive steps never have their command text logged.
	Sensitive bool
	// Optional steps only warn when they fail.
	Optional bool
}
