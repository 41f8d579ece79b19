package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFinishTool(t *testing.T) {
	tool := NewFinishTool()

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "finish" {
			t.Errorf("expected name 'finish', got '%s'", tool.Name())
		}
	})

	t.Run("IsLoopBreaking", func(t *testing.T) {
		if !tool.IsLoopBreaking() {
			t.Error("finish should be loop-breaking")
		}
		if !IsReadOnly(tool) {
			t.Error("finish should be read-only")
		}
	})

	t.Run("Execute_Success", func(t *testing.T) {
		args := []byte(`<arguments><summary>Fixed the off-by-one in pager.go</summary></arguments>`)
		result, meta, err := tool.Execute(context.Background(), args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "Fixed the off-by-one in pager.go" {
			t.Errorf("unexpected result '%s'", result)
		}
		if meta[MetaSummary] != result {
			t.Errorf("expected summary metadata, got %v", meta)
		}
	})

	t.Run("Execute_EmptySummary", func(t *testing.T) {
		args := []byte(`<arguments><summary>  </summary></arguments>`)
		if _, _, err := tool.Execute(context.Background(), args); err == nil {
			t.Error("expected error for empty summary")
		}
	})

	t.Run("Execute_InvalidXML", func(t *testing.T) {
		if _, _, err := tool.Execute(context.Background(), []byte(`invalid xml`)); err == nil {
			t.Error("expected error for invalid XML")
		}
	})
}

func TestVerdictFinishTool(t *testing.T) {
	tool := NewVerdictFinishTool()

	tests := []struct {
		name        string
		args        string
		wantVerdict string
		wantErr     bool
	}{
		{"pass", `<arguments><verdict>PASS</verdict><reason>all tests pass</reason></arguments>`, VerdictPass, false},
		{"pass without reason", `<arguments><verdict>PASS</verdict></arguments>`, VerdictPass, false},
		{"lowercase fail", `<arguments><verdict>fail</verdict><reason>TestPages fails</reason></arguments>`, VerdictFail, false},
		{"fail without reason", `<arguments><verdict>FAIL</verdict></arguments>`, "", true},
		{"missing verdict", `<arguments><reason>looks fine</reason></arguments>`, "", true},
		{"unknown verdict", `<arguments><verdict>MAYBE</verdict><reason>unsure</reason></arguments>`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, meta, err := tool.Execute(context.Background(), []byte(tt.args))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if meta[MetaVerdict] != tt.wantVerdict {
				t.Errorf("expected verdict %s, got %v", tt.wantVerdict, meta[MetaVerdict])
			}
		})
	}
}

func TestParseToolCalls(t *testing.T) {
	t.Run("multiple blocks in order", func(t *testing.T) {
		text := `I'll look around first.
<tool>
<server_name>local</server_name>
<tool_name>list_files</tool_name>
<arguments><path>.</path></arguments>
</tool>
<tool>
<server_name>local</server_name>
<tool_name>read_file</tool_name>
<arguments><path>main.go</path></arguments>
</tool>`

		calls, err := ParseToolCalls(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		if calls[0].ToolName != "list_files" || calls[1].ToolName != "read_file" {
			t.Errorf("unexpected order: %s, %s", calls[0].ToolName, calls[1].ToolName)
		}
	})

	t.Run("no tool call", func(t *testing.T) {
		calls, err := ParseToolCalls("Just thinking out loud.")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(calls) != 0 {
			t.Errorf("expected no calls, got %d", len(calls))
		}
	})

	t.Run("default server name", func(t *testing.T) {
		calls, err := ParseToolCalls(`<tool><tool_name>finish</tool_name><arguments><summary>done</summary></arguments></tool>`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls[0].ServerName != "local" {
			t.Errorf("expected server 'local', got '%s'", calls[0].ServerName)
		}
	})

	t.Run("malformed block reported with valid ones kept", func(t *testing.T) {
		text := `<tool><server_name>local</server_name><arguments></arguments></tool>
<tool><server_name>local</server_name><tool_name>read_file</tool_name><arguments><path>a.go</path></arguments></tool>`

		calls, err := ParseToolCalls(text)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
		if perr.Index != 0 {
			t.Errorf("expected index 0, got %d", perr.Index)
		}
		if len(calls) != 1 || calls[0].ToolName != "read_file" {
			t.Errorf("expected the valid call to be kept, got %v", calls)
		}
	})

	t.Run("cdata and bare ampersand", func(t *testing.T) {
		text := `<tool><server_name>local</server_name><tool_name>write_file</tool_name>
<arguments><path>a.go</path><content><![CDATA[if a && b {}]]></content></arguments></tool>
<tool><server_name>local</server_name><tool_name>read_file</tool_name><arguments><path>x&y.go</path></arguments></tool>`

		calls, err := ParseToolCalls(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(string(calls[0].GetArgumentsXML()), "a && b") {
			t.Errorf("CDATA content lost: %s", calls[0].GetArgumentsXML())
		}
		args, err := XMLToMap(calls[1].GetArgumentsXML())
		if err != nil {
			t.Fatalf("XMLToMap failed: %v", err)
		}
		if args["path"] != "x&y.go" {
			t.Errorf("expected path 'x&y.go', got %v", args["path"])
		}
	})
}

func TestEscapeUnescapedAmpersands(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a & b", "a &amp; b"},
		{"a &amp; b", "a &amp; b"},
		{"&lt;tag&gt; & &#38; &#x26;", "&lt;tag&gt; &amp; &#38; &#x26;"},
	}
	for _, tt := range tests {
		if got := string(escapeUnescapedAmpersands([]byte(tt.in))); got != tt.want {
			t.Errorf("escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
