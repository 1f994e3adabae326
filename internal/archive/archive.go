// Package archive builds deterministic source archives from a git tree,
// mirroring the layout of `git archive --prefix=<name>-<version>/`.
package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/klauspost/compress/gzip"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// Result describes a produced archive.
type Result struct {
	Path   string
	SHA256 string
	Size   int64
}

// Builder writes tar.gz archives into a fixed output directory.
type Builder struct {
	outputDir string
}

// NewBuilder creates a builder writing archives into outputDir.
func NewBuilder(outputDir string) *Builder {
	return &Builder{outputDir: outputDir}
}

// Build archives the tree at the given commit under prefix/ into
// outputDir/name. Entries are emitted in tree order and every header uses
// the commit time, so re-archiving the same tag is byte-stable. An existing
// file at the target path is truncated.
func (b *Builder) Build(commit *object.Commit, tree *object.Tree, name, prefix string) (*Result, error) {
	if err := os.MkdirAll(b.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	outPath := filepath.Join(b.outputDir, name)

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	gzw := gzip.NewWriter(io.MultiWriter(f, hasher))
	tw := tar.NewWriter(gzw)

	modTime := commit.Committer.When
	entries := 0

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		entryName, entry, werr := walker.Next()
		if werr == io.EOF {
			break
		}
		if werr != nil {
			return nil, fmt.Errorf("walk tree: %w", werr)
		}

		switch entry.Mode {
		case filemode.Dir:
			hdr := &tar.Header{
				Name:     prefix + "/" + entryName + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
				ModTime:  modTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return nil, fmt.Errorf("write dir header %s: %w", entryName, err)
			}
		case filemode.Regular, filemode.Deprecated, filemode.Executable:
			file, ferr := tree.TreeEntryFile(&entry)
			if ferr != nil {
				return nil, fmt.Errorf("load file %s: %w", entryName, ferr)
			}
			mode := int64(0o644)
			if entry.Mode == filemode.Executable {
				mode = 0o755
			}
			hdr := &tar.Header{
				Name:     prefix + "/" + entryName,
				Typeflag: tar.TypeReg,
				Mode:     mode,
				Size:     file.Size,
				ModTime:  modTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return nil, fmt.Errorf("write header %s: %w", entryName, err)
			}
			reader, rerr := file.Reader()
			if rerr != nil {
				return nil, fmt.Errorf("read file %s: %w", entryName, rerr)
			}
			if _, err := io.Copy(tw, reader); err != nil {
				_ = reader.Close()
				return nil, fmt.Errorf("copy file %s: %w", entryName, err)
			}
			if err := reader.Close(); err != nil {
				return nil, fmt.Errorf("close file %s: %w", entryName, err)
			}
			entries++
		case filemode.Symlink:
			file, ferr := tree.TreeEntryFile(&entry)
			if ferr != nil {
				return nil, fmt.Errorf("load symlink %s: %w", entryName, ferr)
			}
			target, cerr := file.Contents()
			if cerr != nil {
				return nil, fmt.Errorf("read symlink %s: %w", entryName, cerr)
			}
			hdr := &tar.Header{
				Name:     prefix + "/" + entryName,
				Typeflag: tar.TypeSymlink,
				Linkname: target,
				Mode:     0o777,
				ModTime:  modTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return nil, fmt.Errorf("write symlink header %s: %w", entryName, err)
			}
			entries++
		case filemode.Submodule:
			slog.Warn("Skipping submodule entry in archive", logfields.Path(entryName))
		default:
			return nil, fmt.Errorf("unsupported tree entry mode %v for %s", entry.Mode, entryName)
		}
	}

	if entries == 0 {
		return nil, fmt.Errorf("tree at commit %s has no archivable entries", commit.Hash)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize tar: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	return &Result{
		Path:   outPath,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
		Size:   info.Size(),
	}, nil
}
