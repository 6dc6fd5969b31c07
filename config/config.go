// Package config loads broker default options from TOML files and can
// hot-reload them into a running broker when the file changes.
//
// Every field is optional; absent fields leave the current defaults
// untouched, so a file can override a single knob:
//
//	[defaults]
//	sync = true
//	latch = 0.5
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/arbiter"
)

// File is the on-disk configuration shape.
type File struct {
	Defaults Values `toml:"defaults"`
}

// Values mirrors arbiter.Options with optional fields. Context has no
// file representation and is absent.
type Values struct {
	Persist               *bool    `toml:"persist"`
	Sync                  *bool    `toml:"sync"`
	PreventBubble         *bool    `toml:"prevent_bubble"`
	Latch                 *float64 `toml:"latch"`
	SettlementLatch       *bool    `toml:"settlement_latch"`
	Semaphore             *int     `toml:"semaphore"`
	UpdateAfterSettlement *bool    `toml:"update_after_settlement"`
	Priority              *float64 `toml:"priority"`
	IgnorePersisted       *bool    `toml:"ignore_persisted"`
}

// Load reads configuration from path. A missing file is not an error
// and returns nil.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes TOML configuration data. source names the origin in
// errors.
func Parse(source string, data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Path: source, Err: err}
	}
	return &f, nil
}

// Apply overlays the file's set fields on base and returns the result.
// A nil file returns base unchanged.
func (f *File) Apply(base arbiter.Options) arbiter.Options {
	if f == nil {
		return base
	}
	v := f.Defaults
	if v.Persist != nil {
		base.Persist = *v.Persist
	}
	if v.Sync != nil {
		base.Sync = *v.Sync
	}
	if v.PreventBubble != nil {
		base.PreventBubble = *v.PreventBubble
	}
	if v.Latch != nil {
		base.Latch = *v.Latch
	}
	if v.SettlementLatch != nil {
		base.SettlementLatch = *v.SettlementLatch
	}
	if v.Semaphore != nil {
		base.Semaphore = *v.Semaphore
	}
	if v.UpdateAfterSettlement != nil {
		base.UpdateAfterSettlement = *v.UpdateAfterSettlement
	}
	if v.Priority != nil {
		base.Priority = *v.Priority
	}
	if v.IgnorePersisted != nil {
		base.IgnorePersisted = *v.IgnorePersisted
	}
	return base
}

// ApplyTo overlays the file on the broker's current defaults. The
// broker's default options are mutable at runtime; this is the
// file-backed way to mutate them.
func (f *File) ApplyTo(b *arbiter.Broker) {
	if f == nil || b == nil {
		return
	}
	b.SetDefaults(f.Apply(b.Defaults()))
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing config file %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
