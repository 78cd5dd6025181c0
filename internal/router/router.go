// Package router is the pure, rule-based dispatcher that decides whether a
// user request should first be handed to a specialist agent. It holds no
// state and makes no I/O calls.
package router

import "strings"

// Profile is the full specialist agent record a router Match carries, so
// callers never need a second lookup by id.
type Profile struct {
	ID           string
	Name         string
	SystemPrompt string
	ToolNames    []string
}

// Match is the result of Route when a rule fires.
type Match struct {
	Agent  Profile
	Reason string
}

var researchAgent = Profile{
	ID:   "research",
	Name: "research",
	SystemPrompt: "You are a research specialist. Produce a concise, well-sourced " +
		"brief on the user's topic, noting open questions instead of guessing.",
}

var emailAgent = Profile{
	ID:   "email_writer",
	Name: "email_writer",
	SystemPrompt: "You are an email-drafting specialist. Produce a clear, " +
		"appropriately toned draft the user can send with minimal edits.",
}

var researchKeywords = []string{
	"research", "deep dive", "investigate", "find sources",
	"source list", "literature review", "background on",
}

var emailVerbs = []string{"draft", "reply", "respond", "compose", "write"}

var emailPhrases = []string{
	"draft a reply", "write a reply", "reply to", "write an email", "compose an email",
}

// Route inspects the lowercased requestText and returns the first matching
// rule, or nil if none fires.
func Route(requestText string) *Match {
	text := strings.ToLower(requestText)

	for _, kw := range researchKeywords {
		if strings.Contains(text, kw) {
			return &Match{Agent: researchAgent, Reason: "matched research keyword: " + kw}
		}
	}

	hasEmailWord := strings.Contains(text, "email") || strings.Contains(text, "e-mail")
	if hasEmailWord {
		for _, v := range emailVerbs {
			if strings.Contains(text, v) {
				return &Match{Agent: emailAgent, Reason: "email request with verb: " + v}
			}
		}
	}
	for _, phrase := range emailPhrases {
		if strings.Contains(text, phrase) {
			return &Match{Agent: emailAgent, Reason: "matched email phrase: " + phrase}
		}
	}

	return nil
}
