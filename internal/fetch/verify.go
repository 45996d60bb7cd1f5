package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

// ErrDigestMismatch is the cause of every rejected digest.
var ErrDigestMismatch = errors.New("sha256 digest mismatch")

// DigestError details a digest mismatch.
type DigestError struct {
	Expected string
	Actual   string
}

func (e *DigestError) Error() string {
	return fmt.Sprintf("%s:\nexpected: %s\nactual:   %s", ErrDigestMismatch, e.Expected, e.Actual)
}

// Unwrap returns ErrDigestMismatch.
func (e *DigestError) Unwrap() error { return ErrDigestMismatch }

// checkDigest compares two raw digests in constant time.
func checkDigest(expected, actual []byte) error {
	if subtle.ConstantTimeCompare(expected, actual) == 1 {
		return nil
	}
	return &DigestError{Expected: hex.EncodeToString(expected), Actual: hex.EncodeToString(actual)}
}

// digestEqual compares a hex digest against another, ignoring case.
func digestEqual(expectedHex, actualHex string) bool {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	actual, err := hex.DecodeString(actualHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, actual) == 1
}

// fileDigest returns the hex SHA-256 of a file.
func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// verifySignature downloads a detached signature and checks the file at
// path against the keyring. Armored signatures are tried first.
func (f *Fetcher) verifySignature(ctx context.Context, sigURL, path string) error {
	var sig bytes.Buffer
	if _, _, err := f.download(ctx, sigURL, &limitedWriter{w: &sig, n: maxSignatureBytes}); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return pkgerr.New(pkgerr.KindFilesystem, "verify", path, err)
	}
	defer file.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(f.keyring, file, bytes.NewReader(sig.Bytes()), nil)
	if err != nil {
		if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
			return pkgerr.New(pkgerr.KindFilesystem, "verify", path, seekErr)
		}
		_, err = openpgp.CheckDetachedSignature(f.keyring, file, bytes.NewReader(sig.Bytes()), nil)
	}
	if err != nil {
		return pkgerr.New(pkgerr.KindIntegrity, "verify signature", sigURL, err)
	}
	return nil
}

// LoadKeyring reads an armored or binary OpenPGP public keyring.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		if _, err := keyringFile.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// limitedWriter fails once more than n bytes are written.
type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.n {
		return 0, fmt.Errorf("signature exceeds %d bytes", maxSignatureBytes)
	}
	l.n -= int64(len(p))
	return l.w.Write(p)
}
