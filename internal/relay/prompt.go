package relay

import (
	"fmt"
	"unicode"
)

// PromptInput carries everything the prompt template interpolates.
type PromptInput struct {
	Platform string // channel name, e.g. "slack"
	Sender   string // display handle, e.g. "<@U123>"
	Text     string
	Filename string // non-empty when an attachment rides along
}

// BuildPrompt assembles the text prompt for one event. Plain interpolation,
// no escaping; the rendered context block travels separately.
func BuildPrompt(in PromptInput) string {
	platform := titleWord(in.Platform)
	if in.Filename != "" {
		return fmt.Sprintf(
			"You are an assistant participating in a %s thread.\n"+
				"The user has shared a file with their message. Please analyze the file and respond to their request.\n\n"+
				"### Message with file\n"+
				"%s: %s\n"+
				"File: %s\n",
			platform, in.Sender, in.Text, in.Filename)
	}
	return fmt.Sprintf(
		"You are an assistant participating in a %s thread.\n"+
			"Answer the newest message, considering the short context if provided.\n\n"+
			"### New message\n"+
			"%s: %s\n",
		platform, in.Sender, in.Text)
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
