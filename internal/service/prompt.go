package service

import (
	"fmt"
	"strings"

	dllm "github.com/Strob0t/taskrunner/internal/domain/llm"
)

const rulesPreamble = `You are an autonomous software engineer working on a git repository inside a Linux sandbox.
Rules:
1. Reply with a single JSON object of the shape ` + dllm.ResponseShape + `.
2. Explain your reasoning in "thought". Put one shell command in "command" and its arguments in "args". They are joined with spaces and run with sh -c in the repository root, so pipes and && work.
3. To use a tool instead, write use_tool("<name>", {<json arguments>}) in "thought" and set "command" to "use_tool".
4. Set "finished" to true and leave "command" empty only when the goal is fully achieved.
5. Never print, echo or commit credentials.`

// buildPrompt assembles the fixed preamble, the tool catalog, the goal and
// the rendered transcript.
func buildPrompt(tools, goal, transcript string, iteration, maxIterations int) string {
	var b strings.Builder
	b.WriteString(rulesPreamble)
	b.WriteString("\n\n")
	b.WriteString(tools)
	b.WriteString("\n\nGoal:\n")
	b.WriteString(strings.TrimSpace(goal))
	fmt.Fprintf(&b, "\n\nIteration %d of %d.\nPrevious actions:\n", iteration, maxIterations)
	b.WriteString(transcript)
	b.WriteString("\n\nWhat is your next action?")
	return b.String()
}
