// Package persona loads the assistant character (soul.md) and the owner profile
// (identity.md) and renders them into the chat system prompt.
//
// Files are re-read when they change: an fsnotify watcher reloads immediately, and an
// mtime check on access covers filesystems where notifications are unavailable.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/mybrowse/internal/logging"
)

// Defaults used when the files are missing or omit a field.
const (
	DefaultAIName   = "Aria"
	DefaultLanguage = "Indonesia"

	// DefaultReloadInterval is the minimum time between mtime checks.
	DefaultReloadInterval = 60 * time.Second
)

// Field aliases, Indonesian first.
var (
	nameFields     = []string{"Nama", "Name"}
	callnameFields = []string{"Panggilan", "Callname", "Nickname"}
	languageFields = []string{"Bahasa utama", "Language"}
)

// Data is one parsed snapshot of both files.
type Data struct {
	SoulText      string
	IdentityText  string
	AIName        string
	OwnerName     string
	OwnerCallname string
	OwnerLanguage string
	LoadedAt      time.Time
}

// Callname is how the owner should be addressed.
func (d Data) Callname() string {
	if d.OwnerCallname != "" {
		return d.OwnerCallname
	}
	return d.OwnerName
}

// Loader caches persona data and reloads it when the files change.
type Loader struct {
	soulPath     string
	identityPath string
	interval     time.Duration
	logger       *logging.Logger
	now          func() time.Time

	mu            sync.RWMutex
	data          Data
	soulMTime     time.Time
	identityMTime time.Time
	lastCheck     time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Option configures a Loader.
type Option func(*Loader)

// WithReloadInterval sets the minimum time between mtime checks.
func WithReloadInterval(d time.Duration) Option {
	return func(l *Loader) { l.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// NewLoader reads both files and starts watching them. Missing files are not an error.
func NewLoader(soulPath, identityPath string, opts ...Option) *Loader {
	l := &Loader{
		soulPath:     soulPath,
		identityPath: identityPath,
		interval:     DefaultReloadInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "persona")
	l.reload()
	l.startWatcher()
	return l
}

// startWatcher watches the directories holding the files so editor rename-and-replace
// saves are seen. Without a watcher the mtime check still applies.
func (l *Loader) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Debug("file watcher unavailable", "error", err)
		return
	}

	dirs := make(map[string]bool)
	for _, p := range []string{l.soulPath, l.identityPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			l.logger.Debug("cannot watch persona dir", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = true
	}
	if len(dirs) == 0 {
		watcher.Close()
		return
	}
	l.watcher = watcher
	go l.watch()
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !l.isPersonaFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.reload()
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Debug("file watcher error", "error", err)
		}
	}
}

func (l *Loader) isPersonaFile(name string) bool {
	name = filepath.Clean(name)
	return (l.soulPath != "" && name == filepath.Clean(l.soulPath)) ||
		(l.identityPath != "" && name == filepath.Clean(l.identityPath))
}

// Close stops the file watcher.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}

// Data returns the current snapshot, reloading first if a file's mtime changed
// and the reload interval has passed.
func (l *Loader) Data() Data {
	now := l.now()
	l.mu.RLock()
	due := now.Sub(l.lastCheck) >= l.interval
	l.mu.RUnlock()

	if due {
		l.mu.Lock()
		l.lastCheck = now
		changed := !mtime(l.soulPath).Equal(l.soulMTime) || !mtime(l.identityPath).Equal(l.identityMTime)
		l.mu.Unlock()
		if changed {
			l.reload()
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// AIName is the assistant's name.
func (l *Loader) AIName() string { return l.Data().AIName }

// OwnerName is the owner's full name, possibly empty.
func (l *Loader) OwnerName() string { return l.Data().OwnerName }

// OwnerCallname is how to address the owner, falling back to the name.
func (l *Loader) OwnerCallname() string { return l.Data().Callname() }

// SystemPrompt renders the chat system prompt with extra context (the memory
// digest) appended as the last section.
func (l *Loader) SystemPrompt(extra string) string {
	return BuildSystemPrompt(l.Data(), extra)
}

// BrowserInstruction is a short instruction block for the navigation engine.
func (l *Loader) BrowserInstruction() string {
	return BuildBrowserInstruction(l.Data())
}

func (l *Loader) reload() {
	soul := readFile(l.soulPath, l.logger)
	identity := readFile(l.identityPath, l.logger)

	d := Data{
		SoulText:      soul,
		IdentityText:  identity,
		AIName:        firstField(soul, nameFields, DefaultAIName),
		OwnerName:     firstField(identity, nameFields, ""),
		OwnerCallname: firstField(identity, callnameFields, ""),
		OwnerLanguage: firstField(identity, languageFields, DefaultLanguage),
		LoadedAt:      l.now(),
	}

	l.mu.Lock()
	l.data = d
	l.soulMTime = mtime(l.soulPath)
	l.identityMTime = mtime(l.identityPath)
	l.lastCheck = l.now()
	l.mu.Unlock()

	owner := d.Callname()
	if owner == "" {
		owner = "(unknown)"
	}
	l.logger.Info("persona loaded", "ai", d.AIName, "owner", owner)
}

// BuildSystemPrompt renders the persona sections joined by horizontal rules.
func BuildSystemPrompt(d Data, extra string) string {
	aiName := d.AIName
	if aiName == "" {
		aiName = DefaultAIName
	}

	var parts []string
	if soul := strings.TrimSpace(d.SoulText); soul != "" {
		parts = append(parts, "## Character & Persona\n\n"+soul)
	} else {
		parts = append(parts, fmt.Sprintf("## Character & Persona\n\nYou are %s, a smart and helpful personal AI assistant.", aiName))
	}

	if identity := strings.TrimSpace(d.IdentityText); identity != "" {
		parts = append(parts, "## About the Owner\n\n"+identity)
	} else if d.OwnerName != "" {
		parts = append(parts, fmt.Sprintf("## About the Owner\n\nOwner name: %s. Address them by that name.", d.OwnerName))
	}

	if call := d.OwnerCallname; call != "" {
		parts = append(parts, fmt.Sprintf("## Greeting Instructions\n\nCall the owner %q. Do not use any other form of address unless asked.", call))
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

var valuesHeading = regexp.MustCompile(`(?im)^##\s*(?:nilai|values)[^\n]*\n`)

// BuildBrowserInstruction renders the condensed persona for the navigation engine.
func BuildBrowserInstruction(d Data) string {
	var lines []string
	if d.AIName != "" && d.AIName != DefaultAIName {
		lines = append(lines, fmt.Sprintf("You are %s, an AI assistant.", d.AIName))
	}
	if d.OwnerCallname != "" {
		lines = append(lines, fmt.Sprintf("You are working for %s.", d.OwnerCallname))
	}
	if loc := valuesHeading.FindStringIndex(d.SoulText); loc != nil {
		body := d.SoulText[loc[1]:]
		if i := strings.Index(body, "\n##"); i >= 0 {
			body = body[:i]
		}
		if body = strings.TrimSpace(body); body != "" {
			lines = append(lines, "Guidelines: "+truncate(body, 300))
		}
	}
	lines = append(lines, "IMPORTANT: Whenever you take a screenshot, ALWAYS provide a file_name "+
		`parameter (e.g. file_name="screenshot_step1") so the image is saved to disk and can be sent back to the user.`)
	return strings.Join(lines, "\n")
}

var fieldPatterns sync.Map // field name -> *regexp.Regexp

func fieldPattern(field string) *regexp.Regexp {
	if re, ok := fieldPatterns.Load(field); ok {
		return re.(*regexp.Regexp)
	}
	// "**Nama:** x", "Nama: x", "- **Name**: x". The leading group stops "Name"
	// from matching inside "Callname".
	re := regexp.MustCompile(`(?im)(?:^|[^a-z])\*{0,2}` + regexp.QuoteMeta(field) + `\*{0,2}[ \t]*:[ \t]*(.+)`)
	fieldPatterns.Store(field, re)
	return re
}

// ParseField extracts the value of a "Field: value" line, stripping markdown
// emphasis and any parenthesized remark.
func ParseField(text, field string) string {
	m := fieldPattern(field).FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	v := strings.ReplaceAll(m[1], "*", "")
	if i := strings.Index(v, "("); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func firstField(text string, fields []string, fallback string) string {
	for _, f := range fields {
		if v := ParseField(text, f); v != "" {
			return v
		}
	}
	return fallback
}

func readFile(path string, logger *logging.Logger) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("persona file not found", "path", path)
		} else {
			logger.Warn("cannot read persona file", "path", path, "error", err)
		}
		return ""
	}
	return string(b)
}

// mtime returns the file's modification time, zero when missing.
func mtime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
