package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/cchalm/toolbag/internal/toolset"
)

// Base tool implementation helper
type BaseTool struct {
	Name string
}

func (b BaseTool) checkName(block anthropic.ToolUseBlock) error {
	if block.Name != b.Name {
		return fmt.Errorf("tool use block is for %s, not %s", block.Name, b.Name)
	}
	return nil
}

func requireToolset(toolCtx *ToolContext) (*toolset.Toolset, error) {
	if toolCtx == nil || toolCtx.Toolset == nil {
		return nil, errors.New("no toolset configured")
	}
	return toolCtx.Toolset, nil
}

// toolsetResult serializes the result of a toolset operation, turning errors caused by the arguments into
// ToolInputErrors
func toolsetResult(v any, err error) (*string, error) {
	if err != nil {
		if toolset.IsInputError(err) {
			return nil, NewToolInputError(err)
		}
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	s := string(b)
	return &s, nil
}

// ListFilesTool implements the list_files tool
type ListFilesTool struct {
	BaseTool
}

func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{BaseTool: BaseTool{Name: "list_files"}}
}

func (t *ListFilesTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Recursively lists all files in the working directory. Returns a JSON nested " +
			"object representing the directory tree, e.g. {\"subdir\": {\"file1\": last_modified_epoch_seconds}, " +
			"\"file2\": last_modified_epoch_seconds}"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{},
		},
	}
}

func (t *ListFilesTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.ListFiles(ctx))
}

// FindLinesInFileTool implements the find_lines_in_file tool
type FindLinesInFileTool struct {
	BaseTool
}

type FindLinesInFileInput struct {
	Filename string `json:"filename"`
	Pattern  string `json:"pattern"`
}

func NewFindLinesInFileTool() *FindLinesInFileTool {
	return &FindLinesInFileTool{BaseTool: BaseTool{Name: "find_lines_in_file"}}
}

func (t *FindLinesInFileTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Reads a file and finds lines matching a regular expression. Returns a JSON " +
			"object of {line_number: line_content}, or {} if nothing matches"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"filename": stringProperty("File to search, relative to the working directory"),
				"pattern":  stringProperty("Regular expression (RE2 syntax) matched anywhere in each line"),
			},
			Required: []string{"filename", "pattern"},
		},
	}
}

func (t *FindLinesInFileTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input FindLinesInFileInput
	if err := parseInputJSON(block, []string{"filename", "pattern"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.FindLinesInFile(ctx, input.Filename, input.Pattern))
}

// FindLinesInAllFilesTool implements the find_lines_in_all_files tool
type FindLinesInAllFilesTool struct {
	BaseTool
}

type FindLinesInAllFilesInput struct {
	Pattern string `json:"pattern"`
}

func NewFindLinesInAllFilesTool() *FindLinesInAllFilesTool {
	return &FindLinesInAllFilesTool{BaseTool: BaseTool{Name: "find_lines_in_all_files"}}
}

func (t *FindLinesInAllFilesTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Searches every file in the working directory for lines matching a regular " +
			"expression. Returns a JSON object nested by directory, e.g. {\"dir\": {\"file\": {line_number: " +
			"line_content}}}, or {} if nothing matches"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"pattern": stringProperty("Regular expression (RE2 syntax) matched anywhere in each line"),
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *FindLinesInAllFilesTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input FindLinesInAllFilesInput
	if err := parseInputJSON(block, []string{"pattern"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.FindLinesInAllFiles(ctx, input.Pattern))
}

// SaveToFileTool implements the save_to_file tool
type SaveToFileTool struct {
	BaseTool
}

type SaveToFileInput struct {
	Filename string `json:"filename"`
	Contents string `json:"contents"`
}

func NewSaveToFileTool() *SaveToFileTool {
	return &SaveToFileTool{BaseTool: BaseTool{Name: "save_to_file"}}
}

func (t *SaveToFileTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Saves contents to a file under the working directory. Overwrites the file if " +
			"it exists already, and creates parent directories if they do not exist"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"filename": stringProperty("File to write, relative to the working directory"),
				"contents": stringProperty("Full content of the file"),
			},
			Required: []string{"filename", "contents"},
		},
	}
}

func (t *SaveToFileTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input SaveToFileInput
	if err := parseInputJSON(block, []string{"filename", "contents"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.SaveToFile(ctx, input.Filename, input.Contents))
}

// ReadLineNumbersTool implements the read_line_numbers tool
type ReadLineNumbersTool struct {
	BaseTool
}

type ReadLineNumbersInput struct {
	Filename  string     `json:"filename"`
	StartLine LineNumber `json:"start_line"`
	EndLine   LineNumber `json:"end_line"`
}

func NewReadLineNumbersTool() *ReadLineNumbersTool {
	return &ReadLineNumbersTool{BaseTool: BaseTool{Name: "read_line_numbers"}}
}

func (t *ReadLineNumbersTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Reads a file and returns a JSON object identifying each line by line number, " +
			"{line_number: line_content}. Can limit the lines returned to start_line:end_line inclusive. Defaults " +
			"to returning all lines"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"filename":   stringProperty("File to read, relative to the working directory"),
				"start_line": integerProperty("First line to return, 1-based. Defaults to 1"),
				"end_line":   integerProperty("Last line to return, inclusive. -1 (the default) reads through the end of the file"),
			},
			Required: []string{"filename"},
		},
	}
}

func (t *ReadLineNumbersTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	input := ReadLineNumbersInput{StartLine: 1, EndLine: toolset.EndOfFile}
	if err := parseInputJSON(block, []string{"filename"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.ReadLineNumbers(ctx, input.Filename, int(input.StartLine), int(input.EndLine)))
}

// CopyLinesTool implements the copy_lines tool
type CopyLinesTool struct {
	BaseTool
}

type CopyLinesInput struct {
	SrcFilename   string     `json:"src_filename"`
	SrcStartLine  LineNumber `json:"src_start_line"`
	SrcEndLine    LineNumber `json:"src_end_line"`
	DestFilename  string     `json:"dest_filename"`
	DestStartLine LineNumber `json:"dest_start_line"`
	DestEndLine   LineNumber `json:"dest_end_line"`
}

var copyLinesRequired = []string{
	"src_filename", "src_start_line", "src_end_line", "dest_filename", "dest_start_line", "dest_end_line",
}

func NewCopyLinesTool() *CopyLinesTool {
	return &CopyLinesTool{BaseTool: BaseTool{Name: "copy_lines"}}
}

func (t *CopyLinesTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Copies lines src_start_line:src_end_line (inclusive) of the source file over " +
			"lines dest_start_line:dest_end_line (inclusive) of the destination file. The source is not modified. " +
			"An end line of -1 means through the end of the file. A destination start line one past the last line " +
			"appends"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"src_filename":    stringProperty("File to copy from"),
				"src_start_line":  integerProperty("First line to copy, between 1 and the number of lines"),
				"src_end_line":    integerProperty("Last line to copy, not before src_start_line, or -1 for the end of the file"),
				"dest_filename":   stringProperty("File to copy into. Created if it does not exist"),
				"dest_start_line": integerProperty("First line to replace, between 1 and the number of lines plus one"),
				"dest_end_line":   integerProperty("Last line to replace, not before dest_start_line, or -1 for the end of the file"),
			},
			Required: copyLinesRequired,
		},
	}
}

func (t *CopyLinesTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input CopyLinesInput
	if err := parseInputJSON(block, copyLinesRequired, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.CopyLines(ctx,
		input.SrcFilename, int(input.SrcStartLine), int(input.SrcEndLine),
		input.DestFilename, int(input.DestStartLine), int(input.DestEndLine),
	))
}

// ReplaceLinesInFileTool implements the replace_lines_in_file tool
type ReplaceLinesInFileTool struct {
	BaseTool
}

type ReplaceLinesInFileInput struct {
	Filename            string     `json:"filename"`
	StartLine           LineNumber `json:"start_line"`
	EndLine             LineNumber `json:"end_line"`
	ReplacementContents string     `json:"replacement_contents"`
}

var replaceLinesRequired = []string{"filename", "start_line", "end_line", "replacement_contents"}

func NewReplaceLinesInFileTool() *ReplaceLinesInFileTool {
	return &ReplaceLinesInFileTool{BaseTool: BaseTool{Name: "replace_lines_in_file"}}
}

func (t *ReplaceLinesInFileTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Replaces lines start_line through end_line (inclusive) of a file with " +
			"replacement_contents. If end_line is -1, replaces through the end of the file. Lines can be deleted " +
			"by passing an empty string as replacement_contents, and appended by using the number of lines plus " +
			"one as start_line"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"filename":             stringProperty("File to modify. Created if it does not exist"),
				"start_line":           integerProperty("First line to replace, between 1 and the number of lines plus one"),
				"end_line":             integerProperty("Last line to replace, not before start_line, or -1 for the end of the file"),
				"replacement_contents": stringProperty("New lines. A single trailing newline is optional"),
			},
			Required: replaceLinesRequired,
		},
	}
}

func (t *ReplaceLinesInFileTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input ReplaceLinesInFileInput
	if err := parseInputJSON(block, replaceLinesRequired, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.ReplaceLinesInFile(ctx,
		input.Filename, int(input.StartLine), int(input.EndLine), input.ReplacementContents))
}

// DeleteFileTool implements the delete_file tool
type DeleteFileTool struct {
	BaseTool
}

type DeleteFileInput struct {
	Filename string `json:"filename"`
}

func NewDeleteFileTool() *DeleteFileTool {
	return &DeleteFileTool{BaseTool: BaseTool{Name: "delete_file"}}
}

func (t *DeleteFileTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Deletes a file under the working directory, then removes any parent " +
			"directories left empty"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"filename": stringProperty("File to delete, relative to the working directory"),
			},
			Required: []string{"filename"},
		},
	}
}

func (t *DeleteFileTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input DeleteFileInput
	if err := parseInputJSON(block, []string{"filename"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.DeleteFile(ctx, input.Filename))
}

// MoveFileTool implements the move_file tool
type MoveFileTool struct {
	BaseTool
}

type MoveFileInput struct {
	SrcFilename  string `json:"src_filename"`
	DestFilename string `json:"dest_filename"`
}

func NewMoveFileTool() *MoveFileTool {
	return &MoveFileTool{BaseTool: BaseTool{Name: "move_file"}}
}

func (t *MoveFileTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Moves or renames a file under the working directory, replacing any existing " +
			"destination file. Parent directories of the source left empty are removed"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"src_filename":  stringProperty("File to move"),
				"dest_filename": stringProperty("New name of the file"),
			},
			Required: []string{"src_filename", "dest_filename"},
		},
	}
}

func (t *MoveFileTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input MoveFileInput
	if err := parseInputJSON(block, []string{"src_filename", "dest_filename"}, &input); err != nil {
		return nil, err
	}
	ts, err := requireToolset(toolCtx)
	if err != nil {
		return nil, err
	}
	return toolsetResult(ts.MoveFile(ctx, input.SrcFilename, input.DestFilename))
}

// FetchHTMLTool implements the fetch_html tool
type FetchHTMLTool struct {
	BaseTool
}

type FetchHTMLInput struct {
	URL      string `json:"url"`
	TextOnly bool   `json:"text_only"`
}

func NewFetchHTMLTool() *FetchHTMLTool {
	return &FetchHTMLTool{BaseTool: BaseTool{Name: "fetch_html"}}
}

func (t *FetchHTMLTool) GetToolParam() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name: t.Name,
		Description: anthropic.String("Fetches the content of a web page. Returns the page, or a message starting " +
			"with \"Error fetching HTML:\" if the fetch fails"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"url": stringProperty("The http or https URL to fetch"),
				"text_only": map[string]any{
					"type":        "boolean",
					"description": "Return only the visible text of the page instead of its HTML. Defaults to false",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *FetchHTMLTool) Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error) {
	if err := t.checkName(block); err != nil {
		return nil, err
	}
	var input FetchHTMLInput
	if err := parseInputJSON(block, []string{"url"}, &input); err != nil {
		return nil, err
	}
	if toolCtx == nil || toolCtx.Fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}

	var result string
	if input.TextOnly {
		result = toolCtx.Fetcher.FetchText(ctx, input.URL)
	} else {
		result = toolCtx.Fetcher.Fetch(ctx, input.URL)
	}
	return &result, nil
}
