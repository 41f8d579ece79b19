package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// XMLExampleProvider is an optional interface that tools can implement
// to provide custom XML usage examples
type XMLExampleProvider interface {
	XMLExample() string
}

// GenerateXMLExample creates a concrete XML example from a JSON Schema.
// Only required properties are shown, in name order.
func GenerateXMLExample(schema map[string]interface{}, toolName string) string {
	var builder strings.Builder

	builder.WriteString("<tool>\n")
	builder.WriteString("<server_name>local</server_name>\n")
	builder.WriteString(fmt.Sprintf("<tool_name>%s</tool_name>\n", toolName))
	builder.WriteString("<arguments>\n")

	properties, _ := schema["properties"].(map[string]interface{}) //nolint:errcheck
	for _, name := range sortedKeys(properties) {
		if !requiredSet(schema)[name] {
			continue
		}
		propMap, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		builder.WriteString(generatePropertyExample(name, propMap, "  "))
	}

	builder.WriteString("</arguments>\n")
	builder.WriteString("</tool>")

	return builder.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// generatePropertyExample creates an XML example for a single property
func generatePropertyExample(name string, propSchema map[string]interface{}, indent string) string {
	propType, _ := propSchema["type"].(string)           //nolint:errcheck
	description, _ := propSchema["description"].(string) //nolint:errcheck

	switch propType {
	case "string":
		return generateStringExample(name, propSchema, description, indent)
	case "integer", "number":
		return generateNumberExample(name, propType, indent)
	case "boolean":
		return fmt.Sprintf("%s<%s>false</%s>\n", indent, name, name)
	default:
		return fmt.Sprintf("%s<%s>value</%s>\n", indent, name, name)
	}
}

// generateStringExample creates example for string properties. File
// contents and diffs are shown in CDATA.
func generateStringExample(name string, propSchema map[string]interface{}, description string, indent string) string {
	switch name {
	case "content":
		return fmt.Sprintf("%s<%s><![CDATA[package main\n]]></%s>\n", indent, name, name)
	case "diff":
		return fmt.Sprintf("%s<%s><![CDATA[@@ -1,1 +1,1 @@\n-old line\n+new line\n]]></%s>\n", indent, name, name)
	}
	if strings.Contains(strings.ToLower(description), "path") {
		return fmt.Sprintf("%s<%s>relative/path.go</%s>\n", indent, name, name)
	}

	exampleValue := "value"
	switch enum := propSchema["enum"].(type) {
	case []string:
		if len(enum) > 0 {
			exampleValue = enum[0]
		}
	case []interface{}:
		if len(enum) > 0 {
			if str, ok := enum[0].(string); ok {
				exampleValue = str
			}
		}
	}

	return fmt.Sprintf("%s<%s>%s</%s>\n", indent, name, exampleValue, name)
}

// generateNumberExample creates example for numeric properties
func generateNumberExample(name string, propType string, indent string) string {
	value := "42"
	if propType == "number" {
		value = "3.14"
	}
	return fmt.Sprintf("%s<%s>%s</%s>\n", indent, name, value, name)
}
