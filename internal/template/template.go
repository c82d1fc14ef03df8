package template

import (
	"fmt"
	"strings"
)

// SeparatorStyle names the prompt assembly convention of a conversation
// template.
type SeparatorStyle string

const (
	SepAddColonSingle SeparatorStyle = "ADD_COLON_SINGLE"
	SepAddColonTwo    SeparatorStyle = "ADD_COLON_TWO"
	SepChatML         SeparatorStyle = "CHATML"
)

// ParseSeparatorStyle resolves a style name from a template file.
func ParseSeparatorStyle(name string) (SeparatorStyle, error) {
	switch SeparatorStyle(name) {
	case SepAddColonSingle, SepAddColonTwo, SepChatML:
		return SeparatorStyle(name), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownSeparatorStyle, name)
	}
}

// Message is one chat turn handed to a template. Images collects any image
// attachments extracted from structured content.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// Rendered is the outcome of applying a template to a message list.
type Rendered struct {
	Prompt    string
	Stop      []string
	ImageData []string
}

// Conversation is a named chat template.
type Conversation struct {
	Name           string
	SystemTemplate string
	SystemMessage  string
	Roles          [2]string
	SepStyle       SeparatorStyle
	Sep            string
	Sep2           string
	StopStr        []string
}

// Render assembles the full prompt for the message list, ending with the
// assistant generation prompt. Template stop strings are returned so callers
// can seed them ahead of caller-supplied stops.
func (c Conversation) Render(messages []Message) (Rendered, error) {
	systemMessage := c.SystemMessage
	var turns []Message
	var images []string

	for _, msg := range messages {
		if msg.Role == "system" {
			systemMessage = msg.Content
			continue
		}
		turns = append(turns, msg)
		images = append(images, msg.Images...)
	}

	system := strings.ReplaceAll(c.SystemTemplate, "{system_message}", systemMessage)

	var prompt string
	switch c.SepStyle {
	case SepAddColonSingle:
		prompt = c.renderColon(system, turns, c.Sep, c.Sep)
	case SepAddColonTwo:
		prompt = c.renderColon(system, turns, c.Sep, c.Sep2)
	case SepChatML:
		prompt = c.renderChatML(system, turns)
	default:
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownSeparatorStyle, string(c.SepStyle))
	}

	stop := make([]string, len(c.StopStr))
	copy(stop, c.StopStr)

	return Rendered{
		Prompt:    prompt,
		Stop:      stop,
		ImageData: images,
	}, nil
}

func (c Conversation) renderColon(system string, turns []Message, sep, sep2 string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString(sep)
	}

	seps := [2]string{sep, sep2}
	for i, msg := range turns {
		role := c.roleFor(msg.Role)
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString(seps[i%2])
	}

	b.WriteString(c.Roles[1])
	b.WriteString(":")
	return b.String()
}

func (c Conversation) renderChatML(system string, turns []Message) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		b.WriteString("<|im_end|>")
		b.WriteString(c.Sep)
	}

	for _, msg := range turns {
		b.WriteString("<|im_start|>")
		b.WriteString(c.roleFor(msg.Role))
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString("<|im_end|>")
		b.WriteString(c.Sep)
	}

	b.WriteString("<|im_start|>")
	b.WriteString(c.Roles[1])
	b.WriteString("\n")
	return b.String()
}

func (c Conversation) roleFor(role string) string {
	if role == "assistant" {
		return c.Roles[1]
	}
	return c.Roles[0]
}
