package tools

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	defaultServerName = "local"
	maxXMLSize        = 10 * 1024 * 1024 // 10MB limit for XML tool calls
	argumentsTagName  = "arguments"
)

var toolRegex = regexp.MustCompile(`(?s)<tool>.*?</tool>`)

// ampersandEntityRegex matches ampersands that are already part of XML entities
// to avoid double-escaping them. Matches: &amp; &lt; &gt; &quot; &apos; &#123; &#xAB;
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// ParseError reports a <tool> block that could not be decoded. The model
// gets the message back so it can correct the call.
type ParseError struct {
	// Index is the 0-based position of the block in the response.
	Index   int
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed tool call #%d: %v\nXML snippet: %s", e.Index+1, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseToolCalls extracts every XML tool call from a model response, in
// order. Well-formed calls are returned even when other blocks are
// malformed; the first malformed block is reported as a *ParseError.
//
// Expected format (arguments holding code use CDATA):
//
//	<tool>
//	<server_name>local</server_name>
//	<tool_name>apply_patch</tool_name>
//	<arguments>
//	  <path>pager.go</path>
//	  <diff><![CDATA[@@ -12 +12 @@
//	-	return Pages(n, size) - 1
//	+	return Pages(n, size)
//	]]></diff>
//	</arguments>
//	</tool>
func ParseToolCalls(text string) ([]*ToolCall, error) {
	if len(text) > maxXMLSize {
		return nil, fmt.Errorf("tool call XML exceeds maximum size of %d bytes", maxXMLSize)
	}

	var calls []*ToolCall
	var firstErr error
	for i, block := range toolRegex.FindAllString(text, -1) {
		call, err := decodeToolCall(strings.TrimSpace(block))
		if err != nil {
			if firstErr == nil {
				firstErr = &ParseError{Index: i, Snippet: snippet(block), Err: err}
			}
			continue
		}
		calls = append(calls, call)
	}
	return calls, firstErr
}

func decodeToolCall(block string) (*ToolCall, error) {
	var call ToolCall
	if err := UnmarshalXMLWithFallback([]byte(block), &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool call XML: %w", err)
	}
	call.ToolName = strings.TrimSpace(call.ToolName)
	call.ServerName = strings.TrimSpace(call.ServerName)
	if call.ToolName == "" {
		return nil, fmt.Errorf("tool_name is required in tool call")
	}
	if call.ServerName == "" {
		call.ServerName = defaultServerName
	}
	return &call, nil
}

func snippet(block string) string {
	if len(block) > 200 {
		return block[:200] + "..."
	}
	return block
}

// UnmarshalXMLWithFallback attempts to unmarshal XML, with fallback to
// escape unescaped ampersands if the initial parse fails. Models often
// emit bare & characters in code arguments.
func UnmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

// escapeUnescapedAmpersands replaces bare & with &amp; while preserving
// existing entities (&amp;, &lt;, &gt;, &quot;, &apos;, &#..;)
func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}
	return []byte(result.String())
}

// XMLToMap converts the direct children of an <arguments> element to a map
// of trimmed text values. Used for event payloads and logging.
func XMLToMap(data []byte) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	result := make(map[string]interface{})

	var currentPath []string
	var currentText strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			currentPath = append(currentPath, t.Name.Local)
			currentText.Reset()

		case xml.EndElement:
			if len(currentPath) == 0 {
				continue
			}
			elementName := currentPath[len(currentPath)-1]
			currentPath = currentPath[:len(currentPath)-1]

			if len(currentPath) == 1 && currentPath[0] == argumentsTagName {
				if text := strings.TrimSpace(currentText.String()); text != "" {
					result[elementName] = text
				}
			}
			currentText.Reset()

		case xml.CharData:
			currentText.Write(t)
		}
	}

	return result, nil
}
