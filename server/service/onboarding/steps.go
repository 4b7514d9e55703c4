package onboarding

// Workflow steps in order. Step indexes only ever move forward; the UI layer
// owns per-step input validation.
const (
	StepLanguage int32 = iota
	StepWelcome
	StepName
	StepPersonalization
	StepVision
	StepGoal
	StepMilestone
	StepTask

	// StepCount is the number of steps in the workflow.
	StepCount
)

var stepNames = [StepCount]string{
	"language",
	"welcome",
	"name",
	"personalization",
	"vision",
	"goal",
	"milestone",
	"task",
}

// StepLabel returns the name of a step for logging; out-of-range indexes
// report as "unknown".
func StepLabel(step int32) string {
	if step < 0 || step >= StepCount {
		return "unknown"
	}
	return stepNames[step]
}
