// Package pathresolve locates local save files from per-emulator path
// templates and caches hits in an expiring LRU.
package pathresolve

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
)

const (
	// DefaultCacheSize bounds the number of cached save paths.
	DefaultCacheSize = 512
	// DefaultCacheTTL is how long a resolved path is trusted.
	DefaultCacheTTL = 10 * time.Minute
)

// Template locates the saves of one emulator. Both fields accept the
// placeholders {root}, {emulator}, {platform}, {title}, {rom}, {romdir},
// {titleid} and {channel}.
type Template struct {
	// Dir is the directory saves live in, e.g. "{root}/saves/{emulator}".
	Dir string `yaml:"dir" validate:"required"`
	// Files are candidate names inside Dir, tried in order. A candidate
	// may name a directory for folder based formats.
	Files []string `yaml:"files,omitempty"`
}

// DefaultTemplate applies to emulators without a template of their own.
var DefaultTemplate = Template{
	Dir:   "{root}/saves/{emulator}",
	Files: []string{"{rom}.srm", "{rom}.sav", "{title}.sav"},
}

// builtinTemplates cover emulators whose layout differs from the default.
var builtinTemplates = map[string]Template{
	"dolphin": {Dir: "{root}/saves/dolphin/GC", Files: []string{"{rom}.gci.zip", "{rom}.gci", "{titleid}"}},
	"ppsspp":  {Dir: "{root}/saves/ppsspp/SAVEDATA", Files: []string{"{titleid}"}},
	"yuzu":    {Dir: "{root}/saves/yuzu/save", Files: []string{"{titleid}"}},
	"ryujinx": {Dir: "{root}/saves/ryujinx/save", Files: []string{"{titleid}"}},
	"vita3k":  {Dir: "{root}/saves/vita3k/savedata", Files: []string{"{titleid}"}},
}

// Resolver implements sync.PathResolver over templates.
type Resolver struct {
	fs        afero.Fs
	root      string
	templates map[string]Template
	cache     *expirable.LRU[string, string]
}

// Option configures a Resolver.
type Option func(*resolverOptions)

type resolverOptions struct {
	size      int
	ttl       time.Duration
	templates map[string]Template
}

// WithCache sets the cache size and entry lifetime.
func WithCache(size int, ttl time.Duration) Option {
	return func(o *resolverOptions) {
		if size > 0 {
			o.size = size
		}
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithTemplates overrides templates by emulator id.
func WithTemplates(templates map[string]Template) Option {
	return func(o *resolverOptions) {
		for id, t := range templates {
			o.templates[strings.ToLower(id)] = t
		}
	}
}

// New creates a resolver expanding {root} to root.
func New(fs afero.Fs, root string, opts ...Option) *Resolver {
	o := &resolverOptions{
		size:      DefaultCacheSize,
		ttl:       DefaultCacheTTL,
		templates: make(map[string]Template, len(builtinTemplates)),
	}
	for id, t := range builtinTemplates {
		o.templates[id] = t
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Resolver{
		fs:        fs,
		root:      root,
		templates: o.templates,
		cache:     expirable.NewLRU[string, string](o.size, nil, o.ttl),
	}
}

var _ sync.PathResolver = (*Resolver)(nil)

// Resolve returns the first existing candidate of the emulator's template,
// or "" when none exists.
func (r *Resolver) Resolve(ctx context.Context, q sync.PathQuery) (string, error) {
	key := cacheKey(q)
	if path, ok := r.cache.Get(key); ok {
		if exists, _ := afero.Exists(r.fs, path); exists {
			return path, nil
		}
		r.cache.Remove(key)
	}

	t := r.template(q.EmulatorID)
	dir, ok := r.expand(t.Dir, q)
	if !ok {
		return "", nil
	}
	for _, candidate := range t.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, ok := r.expand(candidate, q)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		exists, err := afero.Exists(r.fs, path)
		if err != nil {
			return "", err
		}
		if exists {
			r.cache.Add(key, path)
			return path, nil
		}
	}

	logging.Debug("No local save matched templates", map[string]interface{}{
		"game_id":     q.GameID,
		"emulator_id": q.EmulatorID,
		"dir":         dir,
	})
	return "", nil
}

// SaveDir returns the expanded directory of the emulator's template.
func (r *Resolver) SaveDir(_ context.Context, q sync.PathQuery) (string, error) {
	dir, ok := r.expand(r.template(q.EmulatorID).Dir, q)
	if !ok {
		return "", nil
	}
	return dir, nil
}

// Invalidate drops the cached path of q.
func (r *Resolver) Invalidate(q sync.PathQuery) {
	r.cache.Remove(cacheKey(q))
}

// Purge empties the cache.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) template(emulatorID string) Template {
	if t, ok := r.templates[strings.ToLower(emulatorID)]; ok {
		return t
	}
	return DefaultTemplate
}

// expand substitutes placeholders. It reports false when the pattern uses a
// placeholder whose value is unknown.
func (r *Resolver) expand(pattern string, q sync.PathQuery) (string, bool) {
	rom := filepath.Base(q.RomPath)
	rom = strings.TrimSuffix(rom, filepath.Ext(rom))
	romDir := ""
	if q.RomPath != "" {
		romDir = filepath.Dir(q.RomPath)
		rom = sanitize(rom)
	} else {
		rom = ""
	}

	values := map[string]string{
		"{root}":     r.root,
		"{emulator}": strings.ToLower(q.EmulatorID),
		"{platform}": strings.ToLower(q.PlatformSlug),
		"{title}":    sanitize(q.Title),
		"{rom}":      rom,
		"{romdir}":   romDir,
		"{titleid}":  q.TitleID,
		"{channel}":  sanitize(q.Channel),
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		if strings.Contains(pattern, k) && v == "" {
			return "", false
		}
		pairs = append(pairs, k, v)
	}
	return filepath.Clean(strings.NewReplacer(pairs...).Replace(pattern)), true
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")

func sanitize(s string) string {
	return strings.TrimSpace(unsafeChars.Replace(s))
}

func cacheKey(q sync.PathQuery) string {
	return strings.Join([]string{
		strings.ToLower(q.EmulatorID),
		q.PlatformSlug,
		q.RomPath,
		q.TitleID,
		q.Channel,
	}, "|") + "|" + q.Title
}
