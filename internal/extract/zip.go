package extract

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zip"
)

// maxZipLinkBytes caps a symlink target stored as a zip entry body.
const maxZipLinkBytes = 4096

// extractZip unpacks a zip archive into root.
func (e *Extractor) extractZip(ctx context.Context, archivePath string, root *root) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return fmt.Errorf("archive is empty")
	}

	for _, f := range zr.File {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if err := extractZipEntry(f, root); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, root *root) error {
	mode := f.Mode()

	switch {
	case mode.IsDir():
		return root.mkdir(f.Name, mode)
	case mode&fs.ModeSymlink != 0:
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		defer rc.Close()
		target, err := io.ReadAll(io.LimitReader(rc, maxZipLinkBytes))
		if err != nil {
			return fmt.Errorf("read zip entry %s: %w", f.Name, err)
		}
		return root.symlink(f.Name, string(target))
	case mode.IsRegular():
		if f.UncompressedSize64 > uint64(root.maxEntry) {
			return fmt.Errorf("entry %s exceeds %d bytes", f.Name, root.maxEntry)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		defer rc.Close()
		// Zips made on Windows carry no Unix permissions.
		if mode.Perm() == 0 {
			mode |= 0644
		}
		return root.writeFile(f.Name, rc, mode)
	default:
		return nil
	}
}
