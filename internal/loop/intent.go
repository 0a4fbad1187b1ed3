package loop

import "strings"

// IntentFunc reports whether a submission asked for something to be built
// on disk. request is the user's text, finalText the model's toolless
// answer.
type IntentFunc func(request, finalText string) bool

// reminderNote nudges a model that answered a build request with prose
// instead of files.
const reminderNote = "You have not created any files yet. If you are ready to build this, " +
	"create the project files now with the write_file tool instead of describing them."

// correctiveNote follows a provider content-filter rejection.
const correctiveNote = "Note: the provider's content filter rejected the previous response. " +
	"Rephrase to avoid the flagged content and continue with the task."

var intentVerbs = []string{
	"create", "build", "make", "generate", "scaffold", "set up", "setup", "write",
}

var intentNouns = []string{
	"app", "application", "project", "website", "web site", "site", "page",
	"landing", "game", "component", "server", "script", "dashboard",
	"portfolio", "prototype",
}

// ProjectCreationIntent is the default IntentFunc: a build verb plus a
// project noun in the request, and a final answer that is not a question
// back to the user.
func ProjectCreationIntent(request, finalText string) bool {
	req := strings.ToLower(request)
	if !containsAny(req, intentVerbs) || !containsAny(req, intentNouns) {
		return false
	}
	// A clarifying question deserves an answer, not a nag.
	if strings.Contains(finalText, "?") {
		return false
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
