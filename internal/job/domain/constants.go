package domain

// Backend job states. The backend reports them as plain strings and may add
// new ones at any time, so they are kept untyped.
const (
	StateStarting   = "STARTING"
	StatePending    = "PENDING"
	StateScraping   = "SCRAPING"
	StateAnalyzing  = "ANALYZING"
	StateGenerating = "GENERATING"
	StateSuccess    = "SUCCESS"
	StateFailure    = "FAILURE"
)

// User-facing messages for terminal outcomes
const (
	MessageGenerated      = "Generated successfully!"
	MessageJobFailed      = "Script generation failed."
	MessageConnectionLost = "Lost connection to the server. Please try again."
	MessageCanceled       = "Polling canceled."
	MessageEmptyScript    = "The backend returned an empty script."
)

// IsTerminal reports whether state ends a polling session
func IsTerminal(state string) bool {
	return state == StateSuccess || state == StateFailure
}
