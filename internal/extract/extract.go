// Package extract unpacks a verified artifact into a fresh staging tree.
//
// Every entry name is joined to the staging root through secureJoin, and
// symlink targets are checked before the link is created, so nothing in an
// archive can write or point outside the root. A failed extraction removes
// the partial tree.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

// maxEntryBytes is the upper bound on a single extracted file (2 GiB).
// Prevents decompression bombs.
const maxEntryBytes = 2 << 30

// Extractor unpacks containers.
type Extractor struct {
	logger   config.Logger
	maxEntry int64
}

// NewExtractor creates an extractor.
func NewExtractor(logger config.Logger) *Extractor {
	return &Extractor{logger: config.OrDiscard(logger), maxEntry: maxEntryBytes}
}

// Extract unpacks archivePath, a container of the given kind, into
// stagingDir. Any existing stagingDir is removed first. On error the partial
// tree is removed and a *pkgerr.Error of kind Extraction is returned.
func (e *Extractor) Extract(ctx context.Context, archivePath string, kind manifest.Container, stagingDir string) error {
	if err := os.RemoveAll(stagingDir); err != nil {
		return pkgerr.New(pkgerr.KindFilesystem, "extract", stagingDir, err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return pkgerr.New(pkgerr.KindFilesystem, "extract", stagingDir, err)
	}

	e.logger.Debug("extracting artifact", "archive", archivePath, "container", string(kind), "staging", stagingDir)

	if err := e.extract(ctx, archivePath, kind, stagingDir); err != nil {
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			e.logger.Warn("failed to remove partial staging tree", "path", stagingDir, "error", rmErr)
		}
		return pkgerr.New(pkgerr.KindExtraction, "extract", archivePath, err)
	}
	return nil
}

func (e *Extractor) extract(ctx context.Context, archivePath string, kind manifest.Container, stagingDir string) error {
	root, err := newRoot(stagingDir, e.maxEntry)
	if err != nil {
		return err
	}

	switch kind {
	case manifest.ContainerNaked:
		return e.extractNaked(archivePath, root)
	case manifest.ContainerZip:
		return e.extractZip(ctx, archivePath, root)
	case manifest.ContainerDeb:
		return e.extractDeb(ctx, archivePath, root)
	case manifest.ContainerTarGz, manifest.ContainerTarXz, manifest.ContainerTarZst:
		file, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer file.Close()

		r, err := decompress(kind, file)
		if err != nil {
			return err
		}
		defer r.Close()
		return e.extractTar(ctx, r, root)
	default:
		return fmt.Errorf("unsupported container %q", kind)
	}
}

// extractNaked copies the artifact as-is, marked executable.
func (e *Extractor) extractNaked(archivePath string, root *root) error {
	src, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	return root.writeFile(filepath.Base(archivePath), src, 0755)
}

// checkContext returns ctx's error, if any, between entries.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("extraction interrupted: %w", err)
	}
	return nil
}

// copyLimited copies at most limit bytes and fails if more are available.
func copyLimited(dst io.Writer, src io.Reader, limit int64) error {
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return fmt.Errorf("entry exceeds %d bytes", limit)
	}
	return nil
}
