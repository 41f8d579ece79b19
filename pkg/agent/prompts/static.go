package prompts

// AgentLoopPrompt describes the tool-call loop to roles that act on the repository.
const AgentLoopPrompt = `<agent_loop>
You work in a tool-call loop inside the repository:
1. Read the task and the results of your previous tool calls
2. Decide what you still need to know or change
3. Call one or more tools; their results come back in the next message
4. Repeat until the work is done, then call finish

Every response should contain at least one tool call. A response without a tool call
wastes one of your limited turns. Calls after finish in the same response are ignored.
</agent_loop>`

// ToolCallingPrompt provides the XML tool call format.
const ToolCallingPrompt = `<tool_calling>
Tool calls are written in XML:

<tool>
<server_name>local</server_name>
<tool_name>tool_name_here</tool_name>
<arguments>
  <param_key>param_value</param_key>
</arguments>
</tool>

Parameters:
- server_name: (required) Always "local"
- tool_name: (required) The name of the tool to execute
- arguments: (required) One XML element per parameter

You may put several <tool> blocks in one response. They run in the order written.

**CONTENT ENCODING:**
File contents and diffs almost always contain characters that are special in XML
(&, <, >). Wrap them in CDATA:

  <content><![CDATA[package main

func ok() bool { return a < b && c > d }
]]></content>

Short plain values such as paths need no wrapping. Never use CDATA around nested elements.
</tool_calling>`

// PatchFormatPrompt explains the diff format accepted by apply_patch.
const PatchFormatPrompt = `<patch_format>
apply_patch takes a unified diff for ONE file:

@@ -12,4 +12,4 @@
 func Pages(n, size int) int {
-	return n / size
+	return (n + size - 1) / size
 }

- Context lines start with a space, removed lines with "-", added lines with "+"
- Copy context and removed lines exactly from the current file; read the file first
- Line numbers may be approximate, but the old lines must match the file
- If a patch is rejected, read the file again and send a corrected patch
</patch_format>`

// ToolUseRulesPrompt outlines the rules for using tools.
const ToolUseRulesPrompt = `<tool_use_rules>
- Only call the tools listed in available_tools. Other tools are rejected.
- Paths are relative to the repository root. Paths outside the repository are rejected.
- finish is loop-breaking: once it succeeds your work for this step is over.
</tool_use_rules>`
