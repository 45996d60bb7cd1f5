package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
)

// decompress wraps r in the decompressor for a tarball container.
func decompress(kind manifest.Container, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case manifest.ContainerTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case manifest.ContainerTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create xz reader: %w", err)
		}
		return io.NopCloser(xzr), nil
	case manifest.ContainerTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("no decompressor for %q", kind)
	}
}

// extractTar unpacks an uncompressed tar stream into root.
func (e *Extractor) extractTar(ctx context.Context, r io.Reader, root *root) error {
	tr := tar.NewReader(r)
	entries := 0

	for {
		if err := checkContext(ctx); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = root.mkdir(header.Name, header.FileInfo().Mode())
		case tar.TypeReg, tar.TypeRegA: //nolint:staticcheck // TypeRegA still appears in old archives
			if header.Size > root.maxEntry {
				return fmt.Errorf("entry %s exceeds %d bytes", header.Name, root.maxEntry)
			}
			err = root.writeFile(header.Name, tr, header.FileInfo().Mode())
		case tar.TypeSymlink:
			err = root.symlink(header.Name, header.Linkname)
		case tar.TypeLink:
			err = root.link(header.Name, header.Linkname)
		default:
			// Devices, fifos and PAX/GNU metadata carry nothing to install.
			e.logger.Debug("skipping tar entry", "name", header.Name, "type", string(header.Typeflag))
			continue
		}
		if err != nil {
			return err
		}
		entries++
	}

	if entries == 0 {
		return fmt.Errorf("archive is empty")
	}
	return nil
}
