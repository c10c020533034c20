package routing

import (
	"strconv"
	"strings"

	"github.com/flowdeskhq/flowdesk/internal/models"
)

// ResetCommand returns the user to the top department menu from any depth.
const ResetCommand = "#"

// menuFooter is appended to prompts once a queue is assigned.
const menuFooter = "\n\n[#] Main menu"

// RenderDepartmentMenu renders the numbered department list under the
// tenant greeting. It is a pure function of its inputs, so re-prompting
// with no state change reproduces byte-identical output.
func RenderDepartmentMenu(greeting string, queues []models.Queue) string {
	var b strings.Builder
	if greeting != "" {
		b.WriteString(greeting)
		b.WriteString("\n\n")
	}
	for i, queue := range queues {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(queue.Name)
	}
	return b.String()
}

// ParseSelection parses body as a 1-indexed menu choice within [1, count].
func ParseSelection(body string, count int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n, true
}

// RenderOptionMenu renders an option list under a header, with the
// main-menu footer.
func RenderOptionMenu(header string, options []models.QueueOption) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	for i, option := range options {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(option.Label)
		b.WriteString("] ")
		b.WriteString(option.Title)
	}
	b.WriteString(menuFooter)
	return b.String()
}

// RenderConfirmation renders an option's confirmation message with the
// main-menu footer.
func RenderConfirmation(option models.QueueOption) string {
	text := option.Confirmation
	if text == "" {
		text = option.Title
	}
	return text + menuFooter
}

// MatchOption finds the option whose label exactly matches the trimmed body.
func MatchOption(body string, options []models.QueueOption) (models.QueueOption, bool) {
	trimmed := strings.TrimSpace(body)
	for _, option := range options {
		if option.Label == trimmed {
			return option, true
		}
	}
	return models.QueueOption{}, false
}
