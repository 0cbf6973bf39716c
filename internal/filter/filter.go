// Package filter implements the filter snapshot registry of spec.md
// §4.3: an atomically swappable pair of watched-address sets, hot
// reloaded from config/contracts.toml and config/address.toml on
// filesystem change, grounded on
// original_source/src/config/filter_config.rs's FilterConfig::load and
// the teacher's read-copy-update idiom (spec.md §9).
package filter

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Snapshot is an immutable pair of watched-address sets (spec.md §3).
// Once published, a Snapshot value is never mutated; the Registry
// replaces the published pointer wholesale instead.
type Snapshot struct {
	Contracts map[common.Address]struct{}
	Addresses map[common.Address]struct{}
}

// HasContract reports whether addr is a watched ERC-20 contract.
func (s *Snapshot) HasContract(addr common.Address) bool {
	_, ok := s.Contracts[addr]
	return ok
}

// HasAddress reports whether addr is a watched user address.
func (s *Snapshot) HasAddress(addr common.Address) bool {
	_, ok := s.Addresses[addr]
	return ok
}

type addressList struct {
	Addresses []string `toml:"addresses"`
}

// Registry holds the currently published Snapshot and watches the
// backing config directory for changes.
type Registry struct {
	log            log.Logger
	contractsPath  string
	addressesPath  string
	current        atomic.Pointer[Snapshot]
	watcher        *fsnotify.Watcher
	stop           chan struct{}
}

// NewRegistry loads the initial snapshot from contractsPath and
// addressesPath and starts a background watcher on their containing
// directory. An unreadable file is a fatal startup error; malformed
// address lines within a readable file are silently skipped
// (spec.md §4.3).
func NewRegistry(logger log.Logger, contractsPath, addressesPath string) (*Registry, error) {
	r := &Registry{
		log:           logger,
		contractsPath: contractsPath,
		addressesPath: addressesPath,
		stop:          make(chan struct{}),
	}

	snap, err := r.load()
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create filter config watcher")
	}
	r.watcher = watcher

	dirs := uniqueDirs(contractsPath, addressesPath)
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "watch filter config dir %s", dir)
		}
	}

	go r.watchLoop()

	return r, nil
}

// Load returns the currently published snapshot. Acquiring it is
// wait-free; the returned pointer remains valid for the caller's use
// even if a concurrent Store replaces it (spec.md §5).
func (r *Registry) Load() *Snapshot {
	return r.current.Load()
}

// Close stops the background watcher.
func (r *Registry) Close() error {
	close(r.stop)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.stop:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("filter config watcher error", "err", err)
		}
	}
}

func (r *Registry) reload() {
	snap, err := r.load()
	if err != nil {
		r.log.Error("failed to reload filter config, keeping previous snapshot", "err", err)
		return
	}
	r.current.Store(snap)
	r.log.Info("filter snapshot reloaded", "contracts", len(snap.Contracts), "addresses", len(snap.Addresses))
}

func (r *Registry) load() (*Snapshot, error) {
	contracts, err := loadAddressFile(r.contractsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load watched contracts from %s", r.contractsPath)
	}
	addresses, err := loadAddressFile(r.addressesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load watched addresses from %s", r.addressesPath)
	}
	return &Snapshot{Contracts: contracts, Addresses: addresses}, nil
}

func loadAddressFile(path string) (map[common.Address]struct{}, error) {
	var list addressList
	if _, err := toml.DecodeFile(path, &list); err != nil {
		return nil, err
	}
	set := make(map[common.Address]struct{}, len(list.Addresses))
	for _, raw := range list.Addresses {
		addr, ok := parseAddress(raw)
		if !ok {
			continue // malformed entries are silently skipped, spec.md §4.3
		}
		set[addr] = struct{}{}
	}
	return set, nil
}

func parseAddress(raw string) (common.Address, bool) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func uniqueDirs(paths ...string) []string {
	seen := make(map[string]struct{}, len(paths))
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}
