// Command rtdc-info summarizes RT-DC containers.
//
//	rtdc-info [-v] [-logs] <file.rtdc>
//	rtdc-info -tree <file.rtdc>
//	rtdc-info -attr /events/image@CLASS <file.rtdc>
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/dataset"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/hdf5"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rtdc-info", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "debug logging")
	showLogs := fs.Bool("logs", false, "print log lines")
	tree := fs.Bool("tree", false, "print the raw HDF5 object tree")
	attr := fs.String("attr", "", "print one attribute, given as /object/path@name")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: rtdc-info [-v] [-logs] [-tree] [-attr path@name] <file.rtdc>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var err error
	switch {
	case *attr != "":
		err = printAttr(stdout, path, *attr)
	case *tree:
		err = printTree(stdout, path, logger)
	default:
		err = printSummary(stdout, path, *showLogs, logger)
	}
	if err != nil {
		logger.Error("rtdc-info failed", "path", path, "err", err)
		return 1
	}
	return 0
}

func printSummary(w io.Writer, path string, showLogs bool, logger *slog.Logger) error {
	ds, err := dataset.Open(path)
	if err != nil {
		return err
	}
	defer ds.Close()
	logger.Debug("opened container", "path", path, "identifier", ds.Identifier(), "events", ds.Len())

	fmt.Fprintf(w, "%s\n", ds.Title())
	fmt.Fprintf(w, "  identifier: %s\n", ds.Identifier())
	fmt.Fprintf(w, "  events: %d\n", ds.Len())

	cfg := ds.Config()
	for _, sec := range dfn.MetadataSections() {
		s := cfg.Section(sec)
		var keys []string
		for _, k := range s.Keys() {
			if dfn.IsMetadata(sec, k) {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n[%s]\n", sec)
		for _, k := range keys {
			v, _ := s.Get(k)
			fmt.Fprintf(w, "  %s = %s\n", k, config.FormatValue(v))
		}
	}

	fmt.Fprintln(w, "\nfeatures:")
	for _, name := range ds.Features() {
		v, err := ds.Feature(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-16s %s\n", name, describe(v))
	}

	logs, err := ds.Logs()
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nlogs:")
	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s (%d lines)\n", name, len(logs[name]))
		if showLogs {
			for _, line := range logs[name] {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	return nil
}

func describe(v any) string {
	switch x := v.(type) {
	case dataset.Scalar:
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, f := range x {
			if math.IsNaN(f) {
				continue
			}
			lo, hi = math.Min(lo, f), math.Max(hi, f)
		}
		if lo > hi {
			return "all NaN"
		}
		return fmt.Sprintf("min=%g max=%g", lo, hi)
	case *dataset.ContourReader:
		return fmt.Sprintf("%d contours", x.Len())
	case *dataset.ImageReader:
		h, w := x.Size()
		return fmt.Sprintf("%d x %d x %d uint8", x.Len(), h, w)
	case dataset.Traces:
		parts := make([]string, 0, len(x))
		for _, ch := range x.Channels() {
			parts = append(parts, fmt.Sprintf("%s %dx%d", ch, x[ch].Len(), x[ch].Samples()))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%T", v)
}

func printTree(w io.Writer, path string, logger *slog.Logger) error {
	f, err := hdf5.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(w, "superblock version %d\n", f.Version())

	err = hdf5.Walk(f.Root(), func(p string, obj any, err error) error {
		depth := len(hdf5.SplitPath(p))
		indent := strings.Repeat("  ", depth)
		if err != nil {
			logger.Warn("cannot open object", "object", p, "err", err)
			fmt.Fprintf(w, "%s%s: unreadable\n", indent, p)
			return nil
		}
		switch o := obj.(type) {
		case *hdf5.Group:
			fmt.Fprintf(w, "%sgroup %s\n", indent, p)
		case *hdf5.Dataset:
			fmt.Fprintf(w, "%sdataset %s shape=%v maxdims=%s filters=%v\n",
				indent, p, o.Shape(), maxDims(o.MaxDims()), o.Filters())
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\nattributes:")
	return f.WalkAttrs(func(info hdf5.AttrInfo) error {
		if info.Err != nil {
			fmt.Fprintf(w, "  %s: %v\n", info.Path, info.Err)
			return nil
		}
		fmt.Fprintf(w, "  %s = %v\n", info.Path, info.Value)
		return nil
	})
}

func maxDims(dims []uint64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		if d == hdf5.Unlimited {
			parts[i] = "inf"
			continue
		}
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func printAttr(w io.Writer, path, attrPath string) error {
	f, err := hdf5.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	v, err := f.ReadAttr(attrPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v\n", v)
	return nil
}
