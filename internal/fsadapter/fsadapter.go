// Package fsadapter implements spec §4.6: file CRUD, streaming text
// search, recursive watch with reconnect-time re-subscription, and
// chunked download assembly.
package fsadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/transport"
)

// Known filesystem error names, re-thrown as typed FSError per spec
// §4.6's error-mapping rule.
const (
	Unavailable      = "Unavailable"
	NoPermissions    = "NoPermissions"
	FileExists       = "FileExists"
	FileNotFound     = "FileNotFound"
	FileIsADirectory = "FileIsADirectory"
	FileNotADirectory = "FileNotADirectory"
)

// FSError wraps an application error whose payload carries a recognised
// filesystem error name.
type FSError struct {
	Name string
	Code int
	Err  *transport.Error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("fsadapter: %s (code=%d): %s", e.Name, e.Code, e.Err.Message)
}

var knownFSErrors = map[string]bool{
	Unavailable: true, NoPermissions: true, FileExists: true,
	FileNotFound: true, FileIsADirectory: true, FileNotADirectory: true,
}

func wrapFSError(err error) error {
	te, ok := err.(*transport.Error)
	if !ok || te.Kind != transport.ErrApplication {
		return err
	}
	m, ok := te.Raw.(map[string]any)
	if !ok {
		return err
	}
	name, _ := m["name"].(string)
	if !knownFSErrors[name] {
		return err
	}
	return &FSError{Name: name, Code: te.Code, Err: te}
}

// Adapter binds filesystem operations to a Session and tracks active
// watches for reconnect-time re-subscription.
type Adapter struct {
	sess *session.Session

	mu      sync.Mutex
	watches map[string]*Watch
}

// New constructs an Adapter and registers it as the session's
// filesystem resubscriber.
func New(sess *session.Session) *Adapter {
	a := &Adapter{sess: sess, watches: make(map[string]*Watch)}
	sess.RegisterResubscriber(a)
	return a
}

func (a *Adapter) invoke(ctx context.Context, action string, args any) (any, error) {
	data, err := a.sess.Invoke(ctx, action, args, transport.CallOptions{})
	if err != nil {
		return nil, wrapFSError(err)
	}
	return data, nil
}

// Simple CRUD-style passthroughs.

func (a *Adapter) Info(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.info", map[string]any{"path": path})
}
func (a *Adapter) Write(ctx context.Context, path string, content []byte) (any, error) {
	return a.invoke(ctx, "fs.write", map[string]any{"path": path, "content": content})
}
func (a *Adapter) Mkdir(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.mkdir", map[string]any{"path": path})
}
func (a *Adapter) Move(ctx context.Context, from, to string) (any, error) {
	return a.invoke(ctx, "fs.move", map[string]any{"from": from, "to": to})
}
func (a *Adapter) Remove(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.remove", map[string]any{"path": path})
}
func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte) (any, error) {
	return a.invoke(ctx, "fs.writeFile", map[string]any{"path": path, "content": content})
}
func (a *Adapter) Stat(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.stat", map[string]any{"path": path})
}
func (a *Adapter) Rename(ctx context.Context, from, to string) (any, error) {
	return a.invoke(ctx, "fs.rename", map[string]any{"from": from, "to": to})
}
func (a *Adapter) Delete(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.delete", map[string]any{"path": path})
}
func (a *Adapter) Copy(ctx context.Context, from, to string) (any, error) {
	return a.invoke(ctx, "fs.copy", map[string]any{"from": from, "to": to})
}
func (a *Adapter) ReadDirectory(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.readDirectory", map[string]any{"path": path})
}
func (a *Adapter) CreateDirectory(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.createDirectory", map[string]any{"path": path})
}
func (a *Adapter) Tree(ctx context.Context, path string) (any, error) {
	return a.invoke(ctx, "fs.tree", map[string]any{"path": path})
}
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	data, err := a.invoke(ctx, "fs.exists", map[string]any{"path": path})
	if err != nil {
		return false, err
	}
	b, _ := data.(bool)
	return b, nil
}

// LineRange selects a subrange of lines for ReadFile.
type LineRange struct {
	Start, End int
}

// ReadResult is ReadFile's return value when a LineRange is given.
type ReadResult struct {
	LineStart, LineEnd int
	Content            string
	Err                string
}

// ReadFile without a range returns raw bytes; with one, a line-bounded
// excerpt per spec §4.6.
func (a *Adapter) ReadFile(ctx context.Context, path string, lineRange *LineRange) (any, error) {
	args := map[string]any{"path": path}
	if lineRange != nil {
		args["lineStart"] = lineRange.Start
		args["lineEnd"] = lineRange.End
	}
	return a.invoke(ctx, "fs.readFile", args)
}

// DefaultExcludes is the shared default exclude list used by Find,
// Download and DefaultSearchOptions (spec §4.6: common VCS dirs,
// node_modules, vendor, etc).
var DefaultExcludes = []string{".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", ".cache"}

// SearchOptions configures Search with spec §4.6's defaults.
type SearchOptions struct {
	Regex         bool
	CaseSensitive bool
	MaxResults    int
	ContextBefore int
	ContextAfter  int
	Exclude       []string
	PreviewLines  int
	PreviewChars  int
	ID            string
}

// DefaultSearchOptions returns spec §4.6's defaults: regex off,
// case-insensitive, max-results 5, 2 lines of context, preview 5 lines
// x 1000 chars.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		MaxResults:    5,
		ContextBefore: 2,
		ContextAfter:  2,
		Exclude:       DefaultExcludes,
		PreviewLines:  5,
		PreviewChars:  1000,
	}
}

var searchIDSeq int64

func nextSearchID() string {
	n := atomic.AddInt64(&searchIDSeq, 1)
	return fmt.Sprintf("search-%d-%d", n, time.Now().UnixNano())
}

// SearchResult is what Search's promise resolves with: whether the
// server reports more matches exist, and the matches delivered in its
// final batch.
type SearchResult struct {
	HasMore bool
	Matches []any
}

// Search streams incremental results on fs.text.search.<id>. onMatch
// may return false to cancel early, disposing the subscription; the
// server is never informed of the cancellation (best-effort per spec).
func (a *Adapter) Search(ctx context.Context, query string, opts SearchOptions, onMatch func(match any) bool) (SearchResult, error) {
	if opts.MaxResults == 0 {
		opts = DefaultSearchOptions()
	}
	if opts.ID == "" {
		opts.ID = nextSearchID()
	}

	var sub eventbus.Disposable
	sub = a.sess.Listen("fs.text.search."+opts.ID, func(data any) {
		if b, ok := data.(bool); ok && !b {
			sub.Dispose()
			return
		}
		if onMatch != nil && !onMatch(data) {
			sub.Dispose()
		}
	})
	defer sub.Dispose()

	data, err := a.invoke(ctx, "fs.textSearch", map[string]any{
		"query": query, "id": opts.ID, "regex": opts.Regex,
		"caseSensitive": opts.CaseSensitive, "maxResults": opts.MaxResults,
		"contextBefore": opts.ContextBefore, "contextAfter": opts.ContextAfter,
		"exclude": opts.Exclude, "previewLines": opts.PreviewLines,
		"previewChars": opts.PreviewChars,
	})
	if err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{}
	if m, ok := data.(map[string]any); ok {
		if hm, ok := m["hasMore"].(bool); ok {
			res.HasMore = hm
		}
		if matches, ok := m["matches"].([]any); ok {
			res.Matches = matches
		}
	}
	return res, nil
}

// Find is a one-shot file-name glob using the same default excludes.
func (a *Adapter) Find(ctx context.Context, query string, exclude []string) (any, error) {
	if exclude == nil {
		exclude = DefaultExcludes
	}
	return a.invoke(ctx, "fs.find", map[string]any{"query": query, "exclude": exclude})
}

// FileChangeType enumerates watch notification kinds.
type FileChangeType string

const (
	Added   FileChangeType = "Added"
	Updated FileChangeType = "Updated"
	Deleted FileChangeType = "Deleted"
)

// FileChange is the payload onChange receives.
type FileChange struct {
	Type          FileChangeType
	Path          string
	IsFile        bool
	Exists        bool
	CorrelationID string
}

// Watch is spec §3's "Watch handle".
type Watch struct {
	Path    string
	Options map[string]any
	onChange func(FileChange)

	a   *Adapter
	sub eventbus.Disposable
}

// Watch registers a local topic subscription fs.watch.<path> and
// invokes fs.watch; the watch is stored keyed by path so reconnect can
// re-issue it without caller intervention.
func (a *Adapter) Watch(ctx context.Context, path string, options map[string]any, onChange func(FileChange)) (*Watch, error) {
	w := &Watch{Path: path, Options: options, onChange: onChange, a: a}
	a.attachLocal(w)

	if _, err := a.invoke(ctx, "fs.watch", map[string]any{"path": path, "options": options}); err != nil {
		w.sub.Dispose()
		return nil, err
	}

	a.mu.Lock()
	a.watches[path] = w
	a.mu.Unlock()
	return w, nil
}

func (a *Adapter) attachLocal(w *Watch) {
	w.sub = a.sess.Listen("fs.watch."+w.Path, func(data any) {
		if w.onChange == nil {
			return
		}
		w.onChange(parseFileChange(data))
	})
}

func parseFileChange(data any) FileChange {
	m, _ := data.(map[string]any)
	fc := FileChange{}
	if t, ok := m["type"].(string); ok {
		fc.Type = FileChangeType(t)
	}
	if p, ok := m["path"].(string); ok {
		fc.Path = p
	}
	if v, ok := m["isFile"].(bool); ok {
		fc.IsFile = v
	}
	if v, ok := m["exists"].(bool); ok {
		fc.Exists = v
	}
	if v, ok := m["correlationId"].(string); ok {
		fc.CorrelationID = v
	}
	return fc
}

// Dispose detaches the local subscriber and issues fs.unwatch.
func (w *Watch) Dispose(ctx context.Context) error {
	w.a.mu.Lock()
	delete(w.a.watches, w.Path)
	w.a.mu.Unlock()

	w.sub.Dispose()
	_, err := w.a.invoke(ctx, "fs.unwatch", map[string]any{"path": w.Path})
	return err
}

// Resubscribe implements session.Resubscriber: on reconnect, every live
// watch re-issues fs.watch without caller intervention.
func (a *Adapter) Resubscribe(ctx context.Context) error {
	a.mu.Lock()
	watches := make([]*Watch, 0, len(a.watches))
	for _, w := range a.watches {
		watches = append(watches, w)
	}
	a.mu.Unlock()

	for _, w := range watches {
		if _, err := a.invoke(ctx, "fs.watch", map[string]any{"path": w.Path, "options": w.Options}); err != nil {
			return fmt.Errorf("fsadapter: resubscribe %s: %w", w.Path, err)
		}
	}
	return nil
}

var downloadIDSeq int64

func nextDownloadID() string {
	n := atomic.AddInt64(&downloadIDSeq, 1)
	return fmt.Sprintf("dl-%d-%d", n, time.Now().UnixNano())
}

// Download allocates an id, subscribes to fs.download.<id>, and
// resolves with the concatenated chunks once the server completes (or
// forwards them live if chunk is non-nil).
func (a *Adapter) Download(ctx context.Context, chunk func([]byte), exclude []string) ([]byte, error) {
	id := nextDownloadID()
	var collected []byte
	var mu sync.Mutex

	sub := a.sess.Listen("fs.download."+id, func(data any) {
		b, _ := data.([]byte)
		if chunk != nil {
			chunk(b)
			return
		}
		mu.Lock()
		collected = append(collected, b...)
		mu.Unlock()
	})
	defer sub.Dispose()

	if exclude == nil {
		exclude = DefaultExcludes
	}
	if _, err := a.invoke(ctx, "fs.download", map[string]any{"id": id, "exclude": exclude}); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return collected, nil
}
