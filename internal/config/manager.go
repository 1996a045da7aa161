package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "flowwatch/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// errUnchanged marks a reload whose file content matches the committed config.
var errUnchanged = errors.New("config unchanged")

// Manager holds the committed config for one file and hands reloaded
// versions to subscribers. Only configs that pass Validate are committed.
type Manager struct {
	path     string
	lookup   func(string) (string, bool)
	debounce time.Duration
	log      logx.Logger

	mu  sync.RWMutex
	cfg *Config
	sum [sha256.Size]byte

	// subMu is held while sending so Unsubscribe cannot close a channel
	// in the middle of a publish.
	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		lookup:   os.LookupEnv,
		debounce: reloadDebounce,
		log:      logx.Nop(),
		subs:     map[chan *Config]struct{}{},
	}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Load reads, validates and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) read() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b, m.lookup)
}

// decode converts YAML or JSON to a Config. Unknown keys and trailing
// documents are errors. Environment overrides are applied last.
func decode(path string, b []byte, lookup func(string) (string, bool)) (*Config, error) {
	name := filepath.Base(path)
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, fmt.Errorf("decode %s: trailing data", name)
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	ApplyEnv(&cfg, lookup)
	return &cfg, nil
}

func fingerprint(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

func (m *Manager) commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

// Subscribe returns a channel receiving every committed reload. When the
// buffer is full the oldest pending config is replaced by the newest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the stale head and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and commits and publishes it when it differs
// from the current config and validates.
func (m *Manager) reload() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	same := m.cfg != nil && fingerprint(cfg) == m.sum
	m.mu.RUnlock()
	if same {
		return nil, errUnchanged
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.commit(cfg)
	m.publish(cfg)
	return cfg, nil
}
