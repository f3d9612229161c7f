package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultMaxFileBytes = 1 << 20

// fileRoot confines relative and absolute paths to one directory tree.
// Symlinks are followed before the containment check, so a link inside the
// tree cannot point outside it.
type fileRoot struct {
	dir  string
	real string
}

func newFileRoot(root string) (fileRoot, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fileRoot{}, fmt.Errorf("resolve tool root %q: %w", root, err)
	}
	real, err := realPath(abs)
	if err != nil {
		return fileRoot{}, fmt.Errorf("resolve tool root %q: %w", root, err)
	}
	return fileRoot{dir: abs, real: real}, nil
}

func (r fileRoot) resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(r.dir, path)
	}
	full = filepath.Clean(full)
	if !within(r.dir, full) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}

	real, err := realPath(full)
	if err != nil || !within(r.real, real) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}
	return real, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// realPath resolves symlinks in the longest existing prefix of path and
// appends the missing tail unchanged. A dangling symlink is an error since
// its target cannot be checked.
func realPath(path string) (string, error) {
	cur := path
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("dangling symlink %s", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// FileReadTool reads a file or lists a directory under the tool root.
type FileReadTool struct {
	root     fileRoot
	maxBytes int64
}

// NewFileReadTool creates a file_read tool rooted at env.Root.
func NewFileReadTool(env Env) (*FileReadTool, error) {
	root, err := newFileRoot(env.Root)
	if err != nil {
		return nil, err
	}
	maxBytes := env.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &FileReadTool{root: root, maxBytes: maxBytes}, nil
}

func (t *FileReadTool) Name() string {
	return ToolFileRead
}

func (t *FileReadTool) Definition() ToolDefinition {
	return fileReadDefinition()
}

func fileReadDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolFileRead,
		Description: "Read the contents of a file, or list a directory with mode=list. Paths are relative to the working directory.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "File or directory path",
				},
				"mode": {
					Type:        "string",
					Description: "read (default) returns file contents, list returns directory entries",
					Enum:        []string{"read", "list"},
				},
			},
			Required: []string{"path"},
		},
	}
}

func (t *FileReadTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	full, err := t.root.resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}

	mode, _ := stringArg(args, "mode")
	if mode == "list" {
		return t.list(path, full)
	}

	f, err := os.Open(full)
	if err != nil {
		return errorResult(fmt.Sprintf("file not found or not readable: %s", path))
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return errorResult(fmt.Sprintf("stat %s: %v", path, err))
	}
	if info.IsDir() {
		return t.list(path, full)
	}

	data, err := io.ReadAll(io.LimitReader(f, t.maxBytes+1))
	if err != nil {
		return errorResult(fmt.Sprintf("read %s: %v", path, err))
	}
	truncated := int64(len(data)) > t.maxBytes
	if truncated {
		data = data[:t.maxBytes]
	}

	return jsonResult(map[string]any{
		"success":   true,
		"path":      path,
		"content":   string(data),
		"size":      info.Size(),
		"truncated": truncated,
	})
}

func (t *FileReadTool) list(path, full string) (*ExecResult, error) {
	entries, err := os.ReadDir(full)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot list %s: %v", path, err))
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i]["name"].(string) < items[j]["name"].(string)
	})

	return jsonResult(map[string]any{
		"success": true,
		"path":    path,
		"entries": items,
	})
}

// FileWriteTool writes or appends to files under the tool root.
type FileWriteTool struct {
	root fileRoot
}

// NewFileWriteTool creates a file_write tool rooted at env.Root.
func NewFileWriteTool(env Env) (*FileWriteTool, error) {
	root, err := newFileRoot(env.Root)
	if err != nil {
		return nil, err
	}
	return &FileWriteTool{root: root}, nil
}

func (t *FileWriteTool) Name() string {
	return ToolFileWrite
}

func (t *FileWriteTool) Definition() ToolDefinition {
	return fileWriteDefinition()
}

func fileWriteDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolFileWrite,
		Description: "Write text to a file, creating parent directories as needed. Set append=true to add to the end instead of replacing.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "File path",
				},
				"content": {
					Type:        "string",
					Description: "Text to write",
				},
				"append": {
					Type:        "boolean",
					Description: "Append instead of overwrite",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *FileWriteTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("path is required and must be a string")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content is required and must be a string")
	}
	appendMode, _ := args["append"].(bool)

	full, err := t.root.resolve(path)
	if err != nil {
		return errorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errorResult(fmt.Sprintf("create directory for %s: %v", path, err))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return errorResult(fmt.Sprintf("open %s: %v", path, err))
	}
	n, writeErr := f.WriteString(content)
	closeErr := f.Close()
	if writeErr != nil {
		return errorResult(fmt.Sprintf("write %s: %v", path, writeErr))
	}
	if closeErr != nil {
		return errorResult(fmt.Sprintf("close %s: %v", path, closeErr))
	}

	return jsonResult(map[string]any{
		"success":       true,
		"path":          path,
		"bytes_written": n,
		"appended":      appendMode,
	})
}
