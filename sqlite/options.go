package sqlite

import (
	"time"

	"github.com/pkg/errors"
)

// Options configures a Database at open time: spec.md §6's "Configuration
// options" (read_only, gvl_release_threshold, pragma, wal), plus the
// supplemented extension-loading flag and a busy timeout (spec.md §5).
//
// Options satisfies github.com/go-extralite/extralite/config's Validator,
// so it can be embedded in a caller's larger YAML configuration tree and
// loaded with config.FromYAMLFile / config.FromEnv exactly like any other
// component's options.
type Options struct {
	// Path is the database file, or ":memory:" for a private, temporary
	// in-memory database.
	Path string `yaml:"path" env:"PATH"`

	// ReadOnly opens the database read-only. False (the default) opens it
	// read-write, creating the file if it doesn't exist.
	ReadOnly bool `yaml:"read_only" env:"READ_ONLY"`

	// GvlReleaseThreshold controls how often the execution permit is
	// released while stepping a statement, per spec.md §5:
	//   -1  never release while stepping.
	//    0  release on the first step of a statement; held across every
	//       later step.
	//   >0  release on the first step of a statement and on every
	//       that-many-th step.
	// The permit is released during compilation whatever the threshold, and
	// the leading statements of a multi-statement script are always stepped
	// with a threshold of 1000.
	GvlReleaseThreshold int `yaml:"gvl_release_threshold" env:"GVL_RELEASE_THRESHOLD" default:"1000"`

	// Pragma is applied as `PRAGMA name = value` statements immediately
	// after open, in map-key order for deterministic logging/replay.
	Pragma map[string]any `yaml:"pragma" env:"PRAGMA"`

	// WAL, when true, sets journal_mode=WAL and synchronous=NORMAL.
	WAL bool `yaml:"wal" env:"WAL"`

	// BusyTimeout sets the engine-managed sleep-and-retry policy used when
	// the database is locked by another connection; zero disables it.
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"BUSY_TIMEOUT" default:"5s"`

	// AllowExtensionLoading gates (*Database).LoadExtension; false by
	// default, mirroring sqlite3_enable_load_extension's opt-in posture.
	AllowExtensionLoading bool `yaml:"allow_extension_loading" env:"ALLOW_EXTENSION_LOADING"`
}

// Validate implements config.Validator.
func (o *Options) Validate() error {
	if o.Path == "" {
		return errors.New("path must not be empty")
	}

	if o.GvlReleaseThreshold < -1 {
		return errors.New("gvl_release_threshold must be >= -1")
	}

	if o.BusyTimeout < 0 {
		return errors.New("busy_timeout must be >= 0")
	}

	return nil
}
