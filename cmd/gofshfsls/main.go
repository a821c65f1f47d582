// Command gofshfsls opens an HFS or HFS+ volume image and walks its
// catalog, printing one line per entry. It is a minimal successor to
// the teacher's dumpfs.go: a debug tool, not a mount or export path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-forensics/gofshfs"
)

type fileBlockReader struct {
	f    *os.File
	size int64
}

func openBlockReader(path string) (*fileBlockReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBlockReader{f: f, size: fi.Size()}, nil
}

func (r *fileBlockReader) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }
func (r *fileBlockReader) Size() int64                             { return r.size }
func (r *fileBlockReader) Close() error                            { return r.f.Close() }

func main() {
	attrs := flag.Bool("attrs", false, "also list extended attribute names")
	verbose := flag.Bool("v", false, "log debug output (volume name and name comparator) to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: gofshfsls [-attrs] [-v] <volume-image>")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(*verbose),
	}))

	if err := run(flag.Arg(0), *attrs, logger); err != nil {
		logger.Error("gofshfsls failed", "err", err)
		os.Exit(1)
	}
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

func run(path string, wantAttrs bool, logger *slog.Logger) error {
	r, err := openBlockReader(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	if !gofshfs.SignatureCheck(r) {
		return fmt.Errorf("%s: not an HFS or HFS+ volume", path)
	}

	vol, err := gofshfs.OpenFromBlockIO(r, true)
	if err != nil {
		return fmt.Errorf("open volume: %w", err)
	}
	defer vol.Close()

	if name, ok := vol.Name(); ok {
		logger.Debug("opened volume", "name", name, "compare", vol.NameCompareKind())
	}

	root, err := vol.RootDirectory()
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}

	return walk(root, "", wantAttrs)
}

func walk(fe *gofshfs.FileEntry, prefix string, wantAttrs bool) error {
	fmt.Printf("%s%s\n", prefix, fe.Name())
	printEntry(fe, prefix, wantAttrs)

	if !fe.IsDirectory() {
		return nil
	}
	children, err := fe.SubFileEntries()
	if err != nil {
		return fmt.Errorf("%s%s: %w", prefix, fe.Name(), err)
	}
	for _, child := range children {
		if err := walk(child, prefix+"  ", wantAttrs); err != nil {
			return err
		}
	}
	return nil
}

func printEntry(fe *gofshfs.FileEntry, prefix string, wantAttrs bool) {
	fmt.Printf("%s  cnid=%d parent=%d mode=%v\n", prefix, fe.Identifier(), fe.ParentIdentifier(), fe.FileMode())
	if link, ok := fe.LinkIdentifier(); ok {
		fmt.Printf("%s  hard link, original cnid=%d\n", prefix, link)
	}
	if !fe.IsDirectory() {
		if size, err := fe.Size(); err == nil {
			fmt.Printf("%s  size=%d\n", prefix, size)
		}
	}
	if !wantAttrs {
		return
	}
	attrs, err := fe.ExtendedAttributes()
	if err != nil || len(attrs) == 0 {
		return
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name()
	}
	fmt.Printf("%s  xattrs=%s\n", prefix, strings.Join(names, ","))
}
