package storage

import (
	"fmt"
	"sort"
)

// Router resolves named disks to their backends. Every backend is built once
// at startup and registered here; resolving a disk never constructs a client.
// The zero disk name resolves to the configured default, and a "local" disk
// is always present. Router is immutable after construction.
type Router struct {
	disks       map[string]Backend
	defaultDisk string
}

// NewRouter registers the given disks. The map must contain a "local" entry,
// which the service leans on as the disk of last resort, and the default disk
// must be one of the registered names.
func NewRouter(defaultDisk string, disks map[string]Backend) (*Router, error) {
	if disks["local"] == nil {
		return nil, fmt.Errorf("router requires a %q disk", "local")
	}
	if defaultDisk == "" {
		defaultDisk = "local"
	}
	if disks[defaultDisk] == nil {
		return nil, fmt.Errorf("default disk %q is not configured", defaultDisk)
	}
	return &Router{disks: disks, defaultDisk: defaultDisk}, nil
}

// Disk returns the backend registered under name. An empty name selects the
// default disk; an unknown name returns ErrDiskNotConfigured.
func (r *Router) Disk(name string) (Backend, error) {
	if name == "" {
		name = r.defaultDisk
	}
	b, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDiskNotConfigured, name)
	}
	return b, nil
}

// Local returns the always-present local disk.
func (r *Router) Local() Backend {
	return r.disks["local"]
}

// DefaultDisk returns the name resolved for an empty disk selector.
func (r *Router) DefaultDisk() string {
	return r.defaultDisk
}

// Names returns the registered disk names, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.disks))
	for name := range r.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
