package hdf5

import (
	"fmt"
	"strings"
)

// WalkFunc receives every object below the starting group. obj is a *Group
// or a *Dataset, or nil when err reports why the object could not be
// opened. A non-nil return stops the walk.
type WalkFunc func(path string, obj any, err error) error

// Walk visits g and then every member, depth first in link order.
func Walk(g *Group, fn WalkFunc) error {
	if err := fn(g.Path(), g, nil); err != nil {
		return err
	}
	for _, l := range g.links {
		obj, err := g.open(l.Name)
		if sub, ok := obj.(*Group); ok {
			if err := Walk(sub, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(g.childPath(l.Name), obj, err); err != nil {
			return err
		}
	}
	return nil
}

// AttrInfo describes one attribute found by [File.WalkAttrs].
type AttrInfo struct {
	Path       string // "/events/image@CLASS"
	ObjectPath string
	Name       string
	Attr       *Attribute
	Value      any   // nil when Err is set
	Err        error // from decoding the value
}

// WalkAttrs calls fn for every attribute of every group and dataset, the
// objects visited as in [Walk]. Objects that cannot be opened are skipped.
func (f *File) WalkAttrs(fn func(AttrInfo) error) error {
	if f.closed {
		return ErrClosed
	}
	return Walk(f.root, func(p string, obj any, err error) error {
		if err != nil {
			return nil
		}
		var attrs attrSet
		switch o := obj.(type) {
		case *Group:
			attrs = o.attrs
		case *Dataset:
			attrs = o.attrs
		}
		for _, a := range attrs {
			attr := &Attribute{msg: a, reader: f.reader}
			info := AttrInfo{Path: JoinAttrPath(p, a.Name), ObjectPath: p, Name: a.Name, Attr: attr}
			info.Value, info.Err = attr.Value()
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadAttr decodes the attribute addressed as "/object/path@name", for
// example "/@experiment:run index" or "/events/image@CLASS".
func (f *File) ReadAttr(attrPath string) (any, error) {
	if f.closed {
		return nil, ErrClosed
	}
	objPath, name, err := ParseAttrPath(attrPath)
	if err != nil {
		return nil, err
	}
	obj, err := f.root.open(objPath)
	if err != nil {
		return nil, err
	}
	var attr *Attribute
	switch o := obj.(type) {
	case *Group:
		attr = o.Attr(name)
	case *Dataset:
		attr = o.Attr(name)
	}
	if attr == nil {
		return nil, fmt.Errorf("%s: %w", attrPath, ErrNotFound)
	}
	return attr.Value()
}

// ParseAttrPath splits "/object/path@name" at the last '@'. A missing
// object path means the root group.
func ParseAttrPath(p string) (objectPath, name string, err error) {
	i := strings.LastIndex(p, "@")
	if i < 0 || i == len(p)-1 {
		return "", "", fmt.Errorf("%w: attribute path %q", ErrInvalidPath, p)
	}
	objectPath = "/" + strings.Trim(p[:i], "/")
	return objectPath, p[i+1:], nil
}

// JoinAttrPath is the inverse of [ParseAttrPath].
func JoinAttrPath(objectPath, name string) string {
	if objectPath == "/" {
		return "/@" + name
	}
	return objectPath + "@" + name
}

// SplitPath returns the non-empty components of p.
func SplitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
