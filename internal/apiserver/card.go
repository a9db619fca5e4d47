package apiserver

import v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"

// Version is the agent version advertised on the discovery card.
const Version = "0.1.0"

// DefaultCard builds the discovery document served at
// /.well-known/agent.json for an agent reachable at url.
func DefaultCard(url string) v1alpha1.AgentCard {
	return v1alpha1.AgentCard{
		Name:        "chrona",
		Description: "Conversational agent that resolves dates, times and date ranges from natural language.",
		URL:         url,
		Version:     Version,
		InputModes:  []string{"text"},
		OutputModes: []string{"text"},
		Streaming:   true,
		Skills: []v1alpha1.AgentSkill{
			{
				ID:          "resolve-datetime",
				Name:        "Datetime resolution",
				Description: "Turns phrases like 'next Friday at noon' or 'last month' into concrete timestamps and ranges.",
				Tags:        []string{"datetime", "calendar"},
				Examples: []string{
					"What is the date for next Friday?",
					"When does last month start and end?",
					"What time is it right now?",
				},
			},
			{
				ID:          "current-weather",
				Name:        "Current weather",
				Description: "Looks up current conditions for a named location.",
				Tags:        []string{"weather"},
				Examples: []string{
					"Is it raining in London?",
				},
			},
		},
	}
}
