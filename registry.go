package braccio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/kinematics"
)

// Link is what the arm and gripper on one port share: the serial controller, the
// angle-state store and the move pipeline built over them.
type Link struct {
	Config     LinkConfig
	Controller *BraccioController
	Store      anglestate.Store
	Pipeline   *kinematics.Pipeline
}

type ControllerEntry struct {
	link      *Link
	config    LinkConfig
	refCount  int64 // Atomic reference counter
	lastError error
	mu        sync.RWMutex
}

// ControllerRegistry hands out one Link per serial port and closes it when the last
// component releases it.
type ControllerRegistry struct {
	entries map[string]*ControllerEntry // port path -> entry
	mu      sync.RWMutex

	// newController is swapped in tests
	newController func(ctx context.Context, link LinkConfig, logger logging.Logger) (*BraccioController, error)
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{
		entries:       make(map[string]*ControllerEntry),
		newController: NewBraccioController,
	}
}

var globalRegistry = NewControllerRegistry()

// GetLink returns the shared link for config.Port, opening it on first use.
func (r *ControllerRegistry) GetLink(ctx context.Context, config LinkConfig, logger logging.Logger) (*Link, error) {
	r.mu.RLock()
	entry, exists := r.entries[config.Port]
	r.mu.RUnlock()

	// a failed open is retried on the next request rather than cached forever
	if exists && entry.hasLink() {
		return r.getExistingLink(entry, config)
	}

	return r.createNewLink(ctx, config, logger)
}

func (e *ControllerEntry) hasLink() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.link != nil
}

func (r *ControllerRegistry) getExistingLink(entry *ControllerEntry, config LinkConfig) (*Link, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.link == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached controller creation error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("controller not available for port %s", config.Port)
	}

	if !configsEqual(entry.config, config) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing controller on %s uses different config (refCount: %d)",
			config.Port, currentRefCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.link, nil
}

func (r *ControllerRegistry) createNewLink(ctx context.Context, config LinkConfig, logger logging.Logger) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[config.Port]; exists && entry.link != nil {
		return r.getExistingLink(entry, config)
	}

	entry := &ControllerEntry{config: config}

	controller, err := r.newController(ctx, config, logger)
	if err != nil {
		entry.lastError = err
		r.entries[config.Port] = entry
		return nil, fmt.Errorf("failed to open Braccio link: %w", err)
	}

	store := config.OpenStore(logger)
	entry.link = &Link{
		Config:     config,
		Controller: controller,
		Store:      store,
		Pipeline:   kinematics.NewPipeline(config.Geometry, store, controller, logger),
	}
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)

	r.entries[config.Port] = entry

	logger.Infof("Created shared Braccio link for port %s", config.Port)
	return entry.link, nil
}

// ReleaseController drops one reference and closes the link when none remain.
func (r *ControllerRegistry) ReleaseController(portPath string, logger logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[portPath]
	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount <= 0 {
		if entry.link != nil && entry.link.Controller != nil {
			if err := entry.link.Controller.Close(); err != nil && logger != nil {
				logger.Warnf("error closing shared controller for port %s: %v", portPath, err)
			}
		}

		delete(r.entries, portPath)

		entry.link = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}
}

// ForceCloseController closes the link regardless of outstanding references.
func (r *ControllerRegistry) ForceCloseController(portPath string) error {
	r.mu.Lock()
	entry, exists := r.entries[portPath]
	if exists {
		delete(r.entries, portPath)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.link != nil {
		err = entry.link.Controller.Close()
		entry.link = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}

	return err
}

func (r *ControllerRegistry) GetControllerStatus(portPath string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	currentRefCount := atomic.LoadInt64(&entry.refCount)
	hasController := entry.link != nil
	configSummary := fmt.Sprintf("Serial: %s@%d, State: %s",
		entry.config.Port, entry.config.Baudrate, entry.config.StateFile)

	return currentRefCount, hasController, configSummary
}

// Compare configs for compatibility
func configsEqual(a, b LinkConfig) bool {
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.Timeout == b.Timeout &&
		a.SettleTime == b.SettleTime &&
		a.StateFile == b.StateFile &&
		a.Geometry == b.Geometry
}
