// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"
)

// actionRoutes describes each action offered to the model, in prompt order.
var actionRoutes = []struct {
	Kind ActionKind
	Help string
}{
	{ActionClick, "Click a Web Element. Args: [Numerical_Label]."},
	{ActionType, "Delete existing content in a textbox and then type content. Args: [Numerical_Label, Content]. End the content with a newline to submit."},
	{ActionScroll, "Scroll up or down. Args: [Numerical_Label or WINDOW, up or down]. Use this to make elements visible, and use it if you are stuck."},
	{ActionWait, "Wait for the page to change. Args: []."},
	{ActionGoBack, "Go back to the previous page. Args: []."},
	{ActionGoogle, "Return to Google to start over. Args: []."},
	{ActionNavigate, "Open a URL directly. Args: [URL]."},
	{ActionAnswer, "Respond with the final answer. Args: [Content]. If you have seen the same observation three times, answer with the last observation."},
	{ActionRetry, "Think again before acting. Args: []."},
	{ActionHuman, "Ask the human operator for help when you are unsure. Args: [Question]."},
}

const systemPromptTemplate = `Imagine you are a robot browsing the web, just like humans. Now you need to complete a task.
In each iteration you receive an observation with a screenshot of a webpage and some text.
The screenshot carries Numerical Labels placed in the TOP LEFT corner of each Web Element.
Carefully analyze the visual information to identify the Numerical Label of the Web Element
that requires interaction, then follow the guidelines and choose one of the following actions:

%s
Key Guidelines You MUST follow:

* Action guidelines *
1) Execute only one action per iteration.
2) When clicking or typing, make sure you select the correct bounding box. Only use labels you can see.
3) Numeric labels lie in the top-left corner of their bounding boxes and are colored the same.
4) If you encounter a cookie consent popup, click on it to proceed.
5) If elements are hard to find or the labels at the bottom are not visible, use SCROLL before giving up.
6) If an action has failed before, do not repeat it unchanged. Try an alternative approach.

* Web Browsing Guidelines *
1) Don't interact with useless web elements like Login, Sign-in or donation banners.
2) Select strategically to minimize time wasted.
3) Use HUMAN when you are uncertain how to proceed.

Respond with a single JSON object and nothing else:
{"thought": "<your reasoning>", "action": "<ACTION>", "args": ["<arg>", ...]}`

// SystemPrompt renders the instruction block for the live predictor.
func SystemPrompt() string {
	var b strings.Builder
	for _, r := range actionRoutes {
		fmt.Fprintf(&b, "- %s: %s\n", r.Kind, r.Help)
	}
	return fmt.Sprintf(systemPromptTemplate, b.String())
}

// UserPrompt renders the task and the scratchpad blocks.
func UserPrompt(state *AgentState) string {
	var b strings.Builder
	b.WriteString("TASK: ")
	b.WriteString(state.Task)
	if state.URL != "" {
		b.WriteString("\nCURRENT URL: ")
		b.WriteString(state.URL)
	}
	for _, m := range state.Scratchpad {
		b.WriteString("\n\n")
		b.WriteString(m.Content)
	}
	b.WriteString("\n\nThe labeled screenshot is attached. Determine the next action.")
	return b.String()
}
