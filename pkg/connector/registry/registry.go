// Package registry provides a global factory registry for source and
// destination connectors. Connector packages register themselves from init
// so importing a package makes its connectors available by name.
package registry

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/strata/pkg/connector/core"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// SourceFactory creates a source reading from path.
type SourceFactory func(path string) (core.Source, error)

// DestinationFactory creates a destination writing to path.
type DestinationFactory func(path string) (core.Destination, error)

var (
	mu           sync.RWMutex
	sources      = make(map[string]SourceFactory)
	destinations = make(map[string]DestinationFactory)
)

// RegisterSource registers a source factory under name.
func RegisterSource(name string, factory SourceFactory) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := sources[name]; ok {
		return errors.Newf(errors.ErrorTypeConfig, "source %q already registered", name)
	}
	sources[name] = factory
	return nil
}

// RegisterDestination registers a destination factory under name.
func RegisterDestination(name string, factory DestinationFactory) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := destinations[name]; ok {
		return errors.Newf(errors.ErrorTypeConfig, "destination %q already registered", name)
	}
	destinations[name] = factory
	return nil
}

// CreateSource creates a source by registered name.
func CreateSource(name, path string) (core.Source, error) {
	mu.RLock()
	factory, ok := sources[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown source format %q", name)
	}
	return factory(path)
}

// CreateDestination creates a destination by registered name.
func CreateDestination(name, path string) (core.Destination, error) {
	mu.RLock()
	factory, ok := destinations[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown destination format %q", name)
	}
	return factory(path)
}

// Sources lists the registered source names, sorted.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Destinations lists the registered destination names, sorted.
func Destinations() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(destinations))
	for name := range destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
