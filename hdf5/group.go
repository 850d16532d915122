package hdf5

import (
	"fmt"
	"path"
	"slices"
	"sort"

	"github.com/robert-malhotra/go-rtdc/internal/message"
	"github.com/robert-malhotra/go-rtdc/internal/object"
)

// Group is a set of named links to groups and datasets. Only hard links are
// followed.
type Group struct {
	file  *File
	path  string
	addr  uint64
	size  uint64
	links []*message.Link
	attrs attrSet
}

func (g *Group) Name() string { return path.Base(g.path) }
func (g *Group) Path() string { return g.path }

func (g *Group) childPath(name string) string { return path.Join(g.path, name) }

// Members returns the link names in header order.
func (g *Group) Members() ([]string, error) {
	names := make([]string, len(g.links))
	for i, l := range g.links {
		names[i] = l.Name
	}
	return names, nil
}

func (g *Group) NumObjects() (int, error) { return len(g.links), nil }

// Contains reports whether the group has a member with the given name.
func (g *Group) Contains(name string) bool {
	return g.link(name) != nil
}

func (g *Group) link(name string) *message.Link {
	for _, l := range g.links {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (g *Group) Attrs() []string             { return g.attrs.names() }
func (g *Group) Attr(name string) *Attribute { return g.attrs.get(name, g.file.reader) }

// OpenGroup opens a group by path relative to g.
func (g *Group) OpenGroup(rel string) (*Group, error) {
	obj, err := g.open(rel)
	if err != nil {
		return nil, err
	}
	grp, ok := obj.(*Group)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, ErrNotGroup)
	}
	return grp, nil
}

// OpenDataset opens a dataset by path relative to g.
func (g *Group) OpenDataset(rel string) (*Dataset, error) {
	obj, err := g.open(rel)
	if err != nil {
		return nil, err
	}
	ds, ok := obj.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, ErrNotDataset)
	}
	return ds, nil
}

// open walks rel one hard link at a time. An object with a dataspace is a
// dataset and ends the walk.
func (g *Group) open(rel string) (any, error) {
	parts := SplitPath(rel)
	current := g
	for i, name := range parts {
		p := current.childPath(name)
		l := current.link(name)
		if l == nil {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		if !l.IsHard() {
			return nil, fmt.Errorf("%s: %w: link type %d", p, ErrUnsupported, l.LinkType)
		}
		if grp, ok := g.file.groups[p]; ok {
			current = grp
			continue
		}
		header, err := object.Read(g.file.reader, l.ObjectAddress)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if header.Dataspace() != nil {
			if i < len(parts)-1 {
				return nil, fmt.Errorf("%s: %w", p, ErrNotGroup)
			}
			ds, err := newDataset(g.file, p, header)
			if err != nil {
				return nil, err
			}
			return ds, nil
		}
		if current, err = g.file.adoptGroup(p, header); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// CreateGroup creates an empty subgroup.
func (g *Group) CreateGroup(name string) (*Group, error) {
	if err := g.checkNew(name); err != nil {
		return nil, err
	}
	addr, _, err := g.file.writeHeader(object.GroupMessages(), object.MinGroupChunkSize)
	if err != nil {
		return nil, fmt.Errorf("writing group header: %w", err)
	}
	if err := g.addLink(name, addr); err != nil {
		return nil, err
	}
	return g.file.openGroupAt(addr, g.childPath(name))
}

// RequireGroup opens the named subgroup, creating it if it does not exist.
func (g *Group) RequireGroup(name string) (*Group, error) {
	if g.Contains(name) {
		return g.OpenGroup(name)
	}
	return g.CreateGroup(name)
}

// Delete unlinks a member. The space it occupied is not reclaimed.
func (g *Group) Delete(name string) error {
	if !g.file.writable {
		return ErrNotWritable
	}
	i := slices.IndexFunc(g.links, func(l *message.Link) bool { return l.Name == name })
	if i < 0 {
		return fmt.Errorf("%s: %w", g.childPath(name), ErrNotFound)
	}
	g.links = slices.Delete(g.links, i, i+1)
	g.file.forgetGroups(g.childPath(name))
	return g.rewrite()
}

// SetAttr creates or replaces an attribute. Supported values are numeric
// and bool scalars and slices, string and []string.
func (g *Group) SetAttr(name string, value any) error {
	return g.SetAttrs(map[string]any{name: value})
}

// SetAttrs creates or replaces several attributes with one header rewrite.
func (g *Group) SetAttrs(attrs map[string]any) error {
	if !g.file.writable {
		return ErrNotWritable
	}
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	next := slices.Clone(g.attrs)
	for _, name := range names {
		msg, err := newAttribute(name, attrs[name])
		if err != nil {
			return err
		}
		next = next.set(msg)
	}
	g.attrs = next
	return g.rewrite()
}

func (g *Group) checkNew(name string) error {
	switch {
	case !g.file.writable:
		return ErrNotWritable
	case name == "" || path.Base(name) != name:
		return fmt.Errorf("%w: member name %q", ErrInvalidPath, name)
	case g.Contains(name):
		return fmt.Errorf("%s: %w", g.childPath(name), ErrExists)
	}
	return nil
}

func (g *Group) addLink(name string, addr uint64) error {
	g.links = append(g.links, message.NewHardLink(name, addr))
	return g.rewrite()
}

// relink points the member name at a new object header.
func (g *Group) relink(name string, addr uint64) error {
	l := g.link(name)
	if l == nil {
		return fmt.Errorf("%s: %w", g.childPath(name), ErrNotFound)
	}
	l.ObjectAddress = addr
	return g.rewrite()
}

// rewrite stores the links and attributes in a new header and points the
// parent, or the superblock for the root, at it.
func (g *Group) rewrite() error {
	messages := object.GroupMessages(g.links...)
	for _, a := range g.attrs {
		messages = append(messages, a)
	}
	addr, size, err := g.file.writeHeader(messages, object.MinGroupChunkSize)
	if err != nil {
		return fmt.Errorf("rewriting %s: %w", g.path, err)
	}
	g.file.alloc.Abandon(g.size)
	g.addr, g.size = addr, size

	if g.path == "/" {
		g.file.sb.RootGroupAddress = addr
		return nil
	}
	parent := g.file.parentOf(g.path)
	if parent == nil {
		return fmt.Errorf("parent of %s is not open", g.path)
	}
	return parent.relink(g.Name(), addr)
}
