package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
)

// arMember is one file of an ar archive.
type arMember struct {
	Name string
	Size int64
}

// readArHeader reads the next ar member header.
func readArHeader(r io.Reader) (*arMember, error) {
	var hdr [arHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[58:60]) != "`\n" {
		return nil, fmt.Errorf("bad ar member header")
	}
	name := strings.TrimSpace(string(hdr[0:16]))
	name = strings.TrimSuffix(name, "/") // GNU ar terminates names with '/'
	size, err := strconv.ParseInt(strings.TrimSpace(string(hdr[48:58])), 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad ar member size %q", bytes.TrimSpace(hdr[48:58]))
	}
	return &arMember{Name: name, Size: size}, nil
}

// debData scans a .deb (an ar archive) for its data.tar member and returns
// the member's name and a reader limited to its body.
func debData(r *bufio.Reader) (string, io.Reader, error) {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != arMagic {
		return "", nil, fmt.Errorf("not a deb package: missing ar header")
	}

	for {
		m, err := readArHeader(r)
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("deb package has no data.tar member")
		}
		if err != nil {
			return "", nil, fmt.Errorf("read deb member: %w", err)
		}
		if strings.HasPrefix(m.Name, "data.tar") {
			return m.Name, io.LimitReader(r, m.Size), nil
		}
		// Members are padded to an even length.
		skip := m.Size + m.Size%2
		if _, err := r.Discard(int(skip)); err != nil {
			return "", nil, fmt.Errorf("skip deb member %s: %w", m.Name, err)
		}
	}
}

// extractDeb unpacks the data.tar payload of a Debian package into root.
// Maintainer scripts in control.tar are not run.
func (e *Extractor) extractDeb(ctx context.Context, archivePath string, root *root) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	name, body, err := debData(bufio.NewReader(file))
	if err != nil {
		return err
	}

	var kind manifest.Container
	switch name {
	case "data.tar":
		return e.extractTar(ctx, body, root)
	case "data.tar.gz":
		kind = manifest.ContainerTarGz
	case "data.tar.xz":
		kind = manifest.ContainerTarXz
	case "data.tar.zst":
		kind = manifest.ContainerTarZst
	default:
		return fmt.Errorf("unsupported deb payload %s", name)
	}

	r, err := decompress(kind, body)
	if err != nil {
		return err
	}
	defer r.Close()
	return e.extractTar(ctx, r, root)
}
