package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	logx "contentpilot/pkg/logx"
)

// Manager owns the live config. Every path that installs a config (Load,
// Reload, Watch) parses, validates and diffs it in one place, and
// subscribers receive the resulting Change.
type Manager struct {
	path string
	log  logx.Logger

	// validator runs after Validate; it checks what only the caller can
	// (mapping into component configs).
	validator func(*Config) error

	reloadMu sync.Mutex

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   []chan Change
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs an extra check applied to every config before it is
// committed, including the initial Load.
func (m *Manager) SetValidator(fn func(*Config) error) { m.validator = fn }

func (m *Manager) Path() string { return m.path }

// Read parses and validates the file without committing it.
func (m *Manager) Read() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseBytes(m.path, b)
	if err != nil {
		return nil, err
	}
	if m.validator != nil {
		if err := m.validator(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ParseBytes decodes config content. The path extension selects the format.
func ParseBytes(path string, b []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and installs the initial config. Nothing is published.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Read()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.hash = hashConfig(cfg)
	m.mu.Unlock()
	return cfg, nil
}

// Reload re-reads the file and commits it. A rejected file leaves the
// current config in place and returns the error; an identical file returns
// an empty Change.
func (m *Manager) Reload(ctx context.Context) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := m.Read()
	if err != nil {
		return Change{}, err
	}
	return m.commit(cfg), nil
}

func (m *Manager) commit(cfg *Config) Change {
	h := hashConfig(cfg)
	m.mu.Lock()
	cur := m.cfg
	if h != 0 && h == m.hash {
		m.mu.Unlock()
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return Change{Old: cur, New: cur}
	}
	m.cfg = cfg
	m.hash = h
	m.mu.Unlock()

	c := Diff(cur, cfg)
	if c.Empty() {
		return c
	}
	m.log.Info("config committed",
		logx.String("changed", strings.Join(c.Sections, ",")),
		logx.String("rotated", strings.Join(c.Rotated, ",")),
		logx.String("restart_required", strings.Join(c.Restart, ",")),
	)
	m.publish(c)
	return c
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel of committed changes. A slow subscriber loses
// its oldest pending change, so consumers should diff against the config
// they last applied rather than trust Old.
func (m *Manager) Subscribe(buffer int) chan Change {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(c Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- c:
			default:
				select {
				case <-ch:
					m.log.Debug("config change dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
				default:
				}
				continue
			}
			break
		}
	}
}
