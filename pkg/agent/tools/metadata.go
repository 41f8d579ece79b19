package tools

// Result is the outcome of executing one tool call. Failed results are not
// fatal: their error text is fed back to the model.
type Result struct {
	Call     *ToolCall
	Output   string
	Err      error
	Metadata map[string]interface{}

	// LoopBreaking is true when a loop-breaking tool succeeded.
	LoopBreaking bool
}

// Success reports whether the call succeeded.
func (r *Result) Success() bool {
	return r.Err == nil
}

// ToolName returns the called tool's name.
func (r *Result) ToolName() string {
	if r.Call == nil {
		return ""
	}
	return r.Call.ToolName
}

// Metadata keys reported by file tools.
const (
	MetaFilePath     = "file_path"
	MetaLinesAdded   = "lines_added"
	MetaLinesRemoved = "lines_removed"
	MetaFileExists   = "file_exists"
	MetaSizeBytes    = "size_bytes"
	MetaFileAction   = "file_action"
)
