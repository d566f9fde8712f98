package classify

import (
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// resolveCacheTTL bounds how long a glob resolution is reused.
	resolveCacheTTL = 30 * time.Second

	// maxResolvedFiles caps the matched file list per classification.
	maxResolvedFiles = 1000
)

type globEntry struct {
	files   []string
	expires time.Time
}

// fileResolver expands glob patterns against a project root with a short
// TTL cache so repeated classifications of the same task are cheap.
type fileResolver struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]globEntry
}

func newFileResolver(root string, logger *slog.Logger, now func() time.Time) *fileResolver {
	return &fileResolver{
		root:   root,
		logger: logger,
		now:    now,
		cache:  make(map[string]globEntry),
	}
}

// resolve expands the patterns into a deduplicated, sorted file list capped
// at maxResolvedFiles. Invalid patterns contribute no matches; glob syntax
// already passed validation so failures here mean filesystem trouble, which
// must not fail classification.
func (r *fileResolver) resolve(patterns []string) []string {
	seen := make(map[string]struct{})
	var files []string

	for _, pattern := range patterns {
		for _, match := range r.glob(pattern) {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			files = append(files, match)
			if len(files) >= maxResolvedFiles {
				r.logger.Debug("glob resolution capped", "limit", maxResolvedFiles)
				sort.Strings(files)
				return files
			}
		}
	}

	sort.Strings(files)
	return files
}

func (r *fileResolver) glob(pattern string) []string {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.cache[pattern]; ok && now.Before(entry.expires) {
		files := entry.files
		r.mu.Unlock()
		return files
	}
	r.mu.Unlock()

	matches, err := doublestar.Glob(os.DirFS(r.root), path.Clean(pattern))
	if err != nil {
		r.logger.Debug("glob resolution failed", "pattern", pattern, "error", err)
		matches = nil
	}

	r.mu.Lock()
	r.cache[pattern] = globEntry{files: matches, expires: now.Add(resolveCacheTTL)}
	r.mu.Unlock()
	return matches
}

func (r *fileResolver) evict() {
	r.mu.Lock()
	r.cache = make(map[string]globEntry)
	r.mu.Unlock()
}

// crossModule reports whether the patterns or resolved files indicate a
// change spanning more than one top-level module.
func crossModule(patterns, files []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(pattern, "**") {
			return true
		}
		if strings.Contains(pattern, "{") && strings.Contains(pattern, "}") {
			return true
		}
	}

	dirs := make(map[string]struct{})
	for _, file := range files {
		dirs[topLevelDir(file)] = struct{}{}
		if len(dirs) > 1 {
			return true
		}
	}
	return false
}

func topLevelDir(file string) string {
	file = path.Clean(strings.ReplaceAll(file, "\\", "/"))
	if i := strings.IndexByte(file, '/'); i >= 0 {
		return file[:i]
	}
	return "."
}
