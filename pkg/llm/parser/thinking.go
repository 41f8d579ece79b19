// Package parser separates model reasoning from answer text in completions.
package parser

import "strings"

// DefaultReasoningTags are the tag names models use to wrap reasoning.
var DefaultReasoningTags = []string{"thinking", "think"}

// Split separates a complete response into reasoning and message text.
//
// Reasoning is anything between an opening reasoning tag and the matching
// closing tag; tags default to DefaultReasoningTags. A '<' that does not
// start a tag stays content, so reasoning like "i<10" never swallows the
// closing tag. An unterminated reasoning block runs to the end of text.
func Split(text string, tags ...string) (thinking, message string) {
	if len(tags) == 0 {
		tags = DefaultReasoningTags
	}

	var tb, mb strings.Builder
	open := ""
	write := func(s string) {
		if open != "" {
			tb.WriteString(s)
		} else {
			mb.WriteString(s)
		}
	}

	for text != "" {
		i := strings.IndexByte(text, '<')
		if i < 0 {
			write(text)
			break
		}
		write(text[:i])
		text = text[i:]

		end := strings.IndexAny(text[1:], "<>")
		if end < 0 {
			write(text)
			break
		}
		end++
		if text[end] == '<' {
			write(text[:end])
			text = text[end:]
			continue
		}

		tag := text[:end+1]
		text = text[end+1:]
		if !switchTag(&open, tag[1:len(tag)-1], tags) {
			write(tag)
		}
	}
	return tb.String(), mb.String()
}

// switchTag opens or closes a reasoning block for the tag named name and
// reports whether it was a reasoning tag.
func switchTag(open *string, name string, tags []string) bool {
	if closing := strings.TrimPrefix(name, "/"); closing != name {
		if *open != "" && closing == *open {
			*open = ""
			return true
		}
		return false
	}
	if *open != "" {
		return false
	}
	for _, t := range tags {
		if name == t {
			*open = name
			return true
		}
	}
	return false
}
