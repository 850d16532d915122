// Package writer stores event features, metadata and logs in RT-DC
// containers.
package writer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/hdf5"
)

// Version is stamped into every written container as setup:software version.
const Version = "0.1.0"

const softwareVersionAttr = "setup:software version"

// Container is an RT-DC file kept open by an append-mode write.
type Container struct {
	path string
	file *hdf5.File
}

// Path returns the file path of the container.
func (c *Container) Path() string { return c.path }

// File returns the underlying HDF5 file, or nil once closed.
func (c *Container) File() *hdf5.File { return c.file }

// Close flushes and closes the container. Closing twice is a no-op.
func (c *Container) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

type feature struct {
	name    string
	h       handler
	payload any
}

type plan struct {
	attrs    map[string]any
	features []feature
	logs     map[string][]string
}

// Write stores data in the container at path. Everything is validated
// before the file is touched; an invalid call leaves the file system as it
// was. In Append mode the open container is returned and must be closed by
// the caller; in the other modes the container is closed and nil returned.
func Write(path string, data Source, opts ...Option) (*Container, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	p, err := validate(data, o)
	if err != nil {
		o.metrics.rejected()
		return nil, err
	}

	start := o.clock()
	f, err := openContainer(path, o.mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return (&Container{path: path, file: f}).run(p, o, start)
}

// Write stores more data in an open container. Modes apply as for the
// package-level Write.
func (c *Container) Write(data Source, opts ...Option) (*Container, error) {
	o := defaultOptions()
	o.mode = Append
	for _, opt := range opts {
		opt(o)
	}
	if c.file == nil {
		return nil, errs.Contractf("container %s is closed", c.path)
	}
	if o.mode == Reset {
		return nil, errs.Contractf("reset mode needs a path, not an open container")
	}

	p, err := validate(data, o)
	if err != nil {
		o.metrics.rejected()
		return nil, err
	}
	return c.run(p, o, o.clock())
}

func openContainer(path string, mode Mode) (*hdf5.File, error) {
	if mode == Reset {
		return hdf5.Create(path)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hdf5.Create(path)
		}
		return nil, err
	}
	return hdf5.OpenReadWrite(path)
}

func (c *Container) run(p *plan, o *options, start time.Time) (*Container, error) {
	if err := c.apply(p, o); err != nil {
		c.Close()
		return nil, fmt.Errorf("writing %s: %w", c.path, err)
	}
	space := c.file.SpaceStats()
	o.metrics.write(o.mode, o.clock().Sub(start), space.Abandoned)
	o.logger.Info("wrote container",
		"path", c.path,
		"mode", o.mode.String(),
		"features", len(p.features),
		"logs", len(p.logs),
		"abandoned_bytes", space.Abandoned)

	if o.mode == Append {
		return c, nil
	}
	return nil, c.Close()
}

// validate checks a write request and normalizes its values without
// touching the file system.
func validate(data Source, o *options) (*plan, error) {
	if data == nil {
		return nil, errs.Contractf("data must be a mapping of feature names to values")
	}
	if !o.mode.valid() {
		return nil, errs.Contractf("invalid write mode %d", int(o.mode))
	}
	if !o.validCompression() {
		return nil, errs.Contractf("unknown compression %q", o.compression)
	}

	p := &plan{attrs: make(map[string]any), logs: o.logs}
	for _, sec := range sortedKeys(o.meta) {
		section := strings.ToLower(strings.TrimSpace(sec))
		if !dfn.IsMetadataSection(section) {
			return nil, errs.Contractf("metadata section not defined: %s", sec)
		}
		for _, k := range sortedKeys(o.meta[sec]) {
			key := strings.ToLower(strings.TrimSpace(k))
			typ, ok := dfn.MetadataType(section, key)
			if !ok {
				return nil, errs.Contractf("meta key not defined: %s:%s", section, key)
			}
			v, err := typ.Coerce(o.meta[sec][k])
			if err != nil {
				return nil, errs.Contractf("meta %s:%s: %v", section, key, err)
			}
			if b, ok := v.(bool); ok {
				v = boolAttr(b)
			}
			p.attrs[section+":"+key] = v
		}
	}
	p.attrs[softwareVersionAttr] = "go-rtdc " + Version

	for _, key := range data.Keys() {
		h, ok := handlerFor(key)
		if !ok {
			return nil, errs.Contractf("unknown key: %s", key)
		}
		v, err := data.Get(key)
		if err != nil {
			return nil, err
		}
		payload, err := h.prepare(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		p.features = append(p.features, feature{name: key, h: h, payload: payload})
	}

	for name := range o.logs {
		if name == "" || strings.Contains(name, "/") {
			return nil, errs.Contractf("invalid log name %q", name)
		}
	}
	return p, nil
}

func boolAttr(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// apply checks the plan against existing content and then stores it.
func (c *Container) apply(p *plan, o *options) error {
	root := c.file.Root()
	if err := c.preflight(p, o); err != nil {
		return err
	}

	if err := root.SetAttrs(p.attrs); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	events, err := root.RequireGroup("events")
	if err != nil {
		return err
	}
	for _, ft := range p.features {
		if o.mode == Replace && events.Contains(ft.name) {
			if err := events.Delete(ft.name); err != nil {
				return fmt.Errorf("replacing %s: %w", ft.name, err)
			}
		}
		rows, err := ft.h.write(events, ft.name, ft.payload, o)
		if err != nil {
			return fmt.Errorf("%s: %w", ft.name, err)
		}
		o.metrics.rows(ft.h.kind(), rows)
		o.logger.Debug("wrote feature",
			"feature", ft.name,
			"kind", ft.h.kind(),
			"rows", rows,
			"mode", o.mode.String())
	}

	if len(p.logs) == 0 {
		return nil
	}
	logs, err := root.RequireGroup("logs")
	if err != nil {
		return err
	}
	var lh logsHandler
	for _, name := range sortedKeys(p.logs) {
		if o.mode == Replace && logs.Contains(name) {
			if err := logs.Delete(name); err != nil {
				return fmt.Errorf("replacing log %s: %w", name, err)
			}
		}
		rows, err := lh.write(logs, name, p.logs[name], o)
		if err != nil {
			return fmt.Errorf("log %s: %w", name, err)
		}
		o.metrics.rows("log", rows)
	}
	return nil
}

// preflight rejects a plan that cannot be appended to what the container
// already holds. It only reads.
func (c *Container) preflight(p *plan, o *options) error {
	if o.mode == Replace {
		return nil
	}
	root := c.file.Root()
	if root.Contains("events") {
		events, err := root.OpenGroup("events")
		if err != nil {
			return err
		}
		for _, ft := range p.features {
			if err := ft.h.check(events, ft.name, ft.payload); err != nil {
				return fmt.Errorf("%s: %w", ft.name, err)
			}
		}
	}
	if len(p.logs) > 0 && root.Contains("logs") {
		logs, err := root.OpenGroup("logs")
		if err != nil {
			return err
		}
		var lh logsHandler
		for _, name := range sortedKeys(p.logs) {
			if err := lh.check(logs, name); err != nil {
				return fmt.Errorf("log %s: %w", name, err)
			}
		}
	}
	return nil
}
