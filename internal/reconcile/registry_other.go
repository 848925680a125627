// This file provides a stub LinuxRegistry for non-Linux platforms so the
// package still builds there (e.g. for running the fake-registry-backed
// scenario tests on a developer's macOS laptop). On Linux the real
// implementation in registry_linux.go is compiled instead.
//
//go:build !linux

package reconcile

import (
	"fmt"
	"log/slog"
)

// LinuxRegistry is the platform stub for non-Linux operating systems. The
// reconciliation engine is explicitly Linux-inotify-shaped (see
// SPEC_FULL.md §1 Non-goals); use RegistryFake for tests on other platforms.
type LinuxRegistry struct{}

// NewLinuxRegistry always returns an error on non-Linux platforms.
func NewLinuxRegistry(_ *slog.Logger) (*LinuxRegistry, error) {
	return nil, fmt.Errorf("reconcile: inotify watch registry is not supported on this platform")
}

func (r *LinuxRegistry) AddPath(_ string, _ any) (int, error)   { return -1, fmt.Errorf("reconcile: unsupported platform") }
func (r *LinuxRegistry) RemovePath(_ int, _ any) error          { return fmt.Errorf("reconcile: unsupported platform") }
func (r *LinuxRegistry) RenamePath(_ int, _, _ any) error       { return fmt.Errorf("reconcile: unsupported platform") }
func (r *LinuxRegistry) ClearAll() error                        { return nil }
func (r *LinuxRegistry) Subscribe(_ func(RegistryEvent))        {}
func (r *LinuxRegistry) InvalidPaths() []string                 { return append([]string(nil), ForbiddenPrefixes...) }
func (r *LinuxRegistry) Start()                                 {}
func (r *LinuxRegistry) Stop()                                  {}
func (r *LinuxRegistry) Pump()                                  {}
func (r *LinuxRegistry) Ready() <-chan struct{}                 { ch := make(chan struct{}); close(ch); return ch }
