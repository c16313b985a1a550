package agent

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxMemoryBullets = 10
	maxSkillChars    = 4000
)

// systemPrompt assembles the per-turn system prompt: identity, clock,
// workspace, autonomy policy, memory bullets, skill instructions,
// today's spend, and the condensed summary of any trimmed thread
// history.
func (a *Agent) systemPrompt(now time.Time, summary string) string {
	st := a.settings.Get()
	name := st.AgentName
	if name == "" {
		name = a.name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal agent running on the owner's machine.\n", name)
	fmt.Fprintf(&b, "Current time: %s\n", now.Format("Monday, 2 January 2006 15:04 MST"))
	fmt.Fprintf(&b, "Workspace: %s\n", a.workspace)
	fmt.Fprintf(&b, "Autonomy level: %s. %s\n", st.AutonomyLevel, autonomyInstruction(st.AutonomyLevel))

	if a.memory != nil {
		if bullets := a.memory.Bullets(maxMemoryBullets); len(bullets) > 0 {
			b.WriteString("\nThings you remember:\n")
			for _, line := range bullets {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
	}

	if a.skills != nil {
		if list, err := a.skills.List(); err == nil && len(list) > 0 {
			b.WriteString("\nSkills:\n")
			for _, s := range list {
				instructions := s.Instructions
				if len(instructions) > maxSkillChars {
					instructions = instructions[:maxSkillChars] + "\n...[truncated]"
				}
				fmt.Fprintf(&b, "\n## %s\n%s\n", s.Name, instructions)
			}
		}
	}

	if summary != "" {
		fmt.Fprintf(&b, "\nEarlier conversation (condensed, older turns dropped):\n%s\n", summary)
	}

	today := a.costs.Today()
	fmt.Fprintf(&b, "\nToday's LLM usage: %d calls, %d tokens, $%.4f.\n",
		today.CallCount, today.InputTokens+today.OutputTokens, today.Cost)

	b.WriteString("\nBe concise. Use tools when they help; report what you actually did, not what you intend to do.")
	return b.String()
}

// autonomyInstruction states the approval policy for each level.
func autonomyInstruction(level string) string {
	switch level {
	case "low":
		return "Always ask: every action with side effects needs human approval before it runs."
	case "high":
		return "Act autonomously: only irreversible actions pause for human approval."
	default: // medium
		return "Safe actions run automatically; destructive or risky ones pause for human approval."
	}
}
