package policy

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"go.uber.org/zap"
)

// Manager holds the active rule set behind a single atomic read point.
// Reload builds a complete new rule set and swaps the pointer, so an
// in-flight evaluation always sees one whole rule set.
type Manager struct {
	current atomic.Pointer[RuleSet]
	loader  Loader
	matcher *Matcher
	logger  *zap.Logger

	// reloadMu serializes reloads; readers never take it.
	reloadMu sync.Mutex
	reloads  atomic.Uint64
	onReload []func(*RuleSet)
}

// NewManager loads the initial rule set. A failing initial load is a
// configuration error and should abort startup.
func NewManager(loader Loader, matcher *Matcher, logger *zap.Logger) (*Manager, error) {
	if matcher == nil {
		matcher = NewMatcher(PrecedenceFirstMatch, nil)
	}
	m := &Manager{
		loader:  loader,
		matcher: matcher,
		logger:  logger,
	}

	rs, err := loader.Load()
	if err != nil {
		return nil, services.WrapConfiguration("failed to load initial policy rule set", err)
	}
	m.current.Store(rs)

	logger.Info("policy rule set loaded",
		zap.String("source", loader.Source()),
		zap.String("version", rs.Version()),
		zap.Int("rules", rs.Len()),
		zap.String("precedence", string(matcher.Mode())))

	return m, nil
}

// RuleSet returns the active rule set
func (m *Manager) RuleSet() *RuleSet {
	return m.current.Load()
}

// Evaluate evaluates a request against the active rule set
func (m *Manager) Evaluate(req *models.AuthorizationRequest) (models.Decision, error) {
	return m.matcher.Evaluate(req, m.current.Load())
}

// Replace atomically installs a rule set
func (m *Manager) Replace(rs *RuleSet) {
	m.current.Store(rs)
	m.reloads.Add(1)
}

// Reload re-reads the source and swaps in the new rule set.
// On failure the previous rule set stays active.
func (m *Manager) Reload() (*RuleSet, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	previous := m.current.Load()
	rs, err := m.loader.Load()
	if err != nil {
		m.logger.Error("policy reload failed, keeping previous rule set",
			zap.String("source", m.loader.Source()),
			zap.String("version", previous.Version()),
			zap.Error(err))
		return nil, err
	}

	m.Replace(rs)
	m.logger.Info("policy rule set reloaded",
		zap.String("source", m.loader.Source()),
		zap.String("previous_version", previous.Version()),
		zap.String("version", rs.Version()),
		zap.Int("rules", rs.Len()))

	for _, fn := range m.onReload {
		fn(rs)
	}
	return rs, nil
}

// OnReload registers fn to run after every successful Reload.
// Hooks run on the reloading goroutine, in registration order.
func (m *Manager) OnReload(fn func(*RuleSet)) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// ReloadCount returns the number of successful swaps
func (m *Manager) ReloadCount() uint64 {
	return m.reloads.Load()
}

// Watch reloads the rule set whenever the policy file changes.
// Changes are debounced; Watch returns when stopCh is closed.
func (m *Manager) Watch(path string, debounce time.Duration, stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return services.WrapConfiguration("failed to create policy file watcher", err)
	}

	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return services.WrapConfiguration("failed to watch policy file", err)
	}

	go func() {
		defer watcher.Close()

		target := filepath.Clean(path)
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerC = timer.C

			case <-timerC:
				timerC = nil
				_, _ = m.Reload()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("policy file watcher error", zap.Error(err))

			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	m.logger.Info("watching policy file for changes", zap.String("path", path))
	return nil
}
