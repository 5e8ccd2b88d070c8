package alar

import "context"

// Initializer is implemented by a service singleton that needs
// asynchronous setup before it can serve traffic. The server runs
// Init sequentially across all registered modules on open.
type Initializer interface {
	Init(ctx context.Context) error
}

// Destroyer is implemented by a service singleton that needs teardown
// when its server closes. Destructors run concurrently across modules;
// their errors are aggregated, not individually fatal.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Descriptor is what a Loader resolves a module's filesystem path to:
// either a zero-arg class constructor (NewInstance), a named factory
// resembling a static "getInstance" method (GetInstance), or a
// prototype object to be deep-copied into the singleton. Exactly one of NewInstance, GetInstance, or Prototype should be set;
// GetInstance takes priority over NewInstance if both are present.
type Descriptor struct {
	// GetInstance, if set, is called once to obtain the singleton,
	// mirroring a static "getInstance" factory on the backing class.
	GetInstance func() (interface{}, error)
	// NewInstance, if set, is called once (with no arguments) to
	// construct the singleton, mirroring a zero-arg class constructor.
	NewInstance func() (interface{}, error)
	// Prototype, if set (and the above are not), is deep-cloned via
	// reflection to produce the singleton, mirroring a module that
	// exports a plain prototype object rather than a class.
	Prototype interface{}
	// Construct, if set, builds a *new* instance per call, used when a
	// module is invoked as a constructor with arguments; modules that
	// don't support fresh-instance construction leave this nil.
	Construct func(args ...interface{}) (interface{}, error)
}

func (d Descriptor) instantiate() (interface{}, error) {
	switch {
	case d.GetInstance != nil:
		return d.GetInstance()
	case d.NewInstance != nil:
		return d.NewInstance()
	case d.Prototype != nil:
		return deepClone(d.Prototype), nil
	default:
		return nil, errNoInstanceStrategy
	}
}

// Loader is the external collaborator (out of scope for this core)
// that resolves a ModuleProxy's (name, path) to a Descriptor. A real
// application wires in a hot-reloading Loader that watches a directory
// of plugin files; the core only depends on this interface.
type Loader interface {
	// Extensions lists the file extensions this loader resolves, in
	// priority order. A single-extension loader tries path+ext directly;
	// a multi-extension loader scans the module's directory.
	Extensions() []string
	// Resolve returns the Descriptor for the module at path (without
	// extension), or an error (typically wrapping os.ErrNotExist) if no
	// matching file exists.
	Resolve(path string) (Descriptor, error)
	// Unload releases any cached state the loader holds for path. Called
	// by a directory watcher (also out of scope) on file change.
	Unload(path string) error
}
