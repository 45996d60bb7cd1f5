package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"       //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

func newSigner(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("Release Signer", "", "release@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}
	return entity
}

func armoredSignature(t *testing.T, signer *openpgp.Entity, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("ArmoredDetachSign() error = %v", err)
	}
	return sig.Bytes()
}

func signedServer(t *testing.T, body, sig []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pkg.tar.gz", func(w http.ResponseWriter, r *http.Request) { w.Write(body) })
	mux.HandleFunc("/pkg.tar.gz.asc", func(w http.ResponseWriter, r *http.Request) { w.Write(sig) })
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetch_Signature(t *testing.T) {
	signer := newSigner(t)
	body := []byte("signed archive")

	tests := []struct {
		name    string
		sig     []byte
		keyring openpgp.EntityList
		wantErr bool
	}{
		{"valid", armoredSignature(t, signer, body), openpgp.EntityList{signer}, false},
		{"wrong content", armoredSignature(t, signer, []byte("other")), openpgp.EntityList{signer}, true},
		{"unknown key", armoredSignature(t, newSigner(t), body), openpgp.EntityList{signer}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := signedServer(t, body, tt.sig)
			art := artifactFor(server.URL+"/pkg.tar.gz", body)
			art.SignatureURL = server.URL + "/pkg.tar.gz.asc"
			dest := t.TempDir()

			res, err := New(WithKeyring(tt.keyring)).Fetch(context.Background(), art, dest)
			if tt.wantErr {
				if !errors.Is(err, pkgerr.ErrIntegrity) {
					t.Fatalf("error = %v, want Integrity kind", err)
				}
				if names := listDir(t, dest); len(names) != 0 {
					t.Errorf("rejected artifact left files behind: %v", names)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if !res.Verified {
				t.Error("Verified = false, want true")
			}
		})
	}
}

func TestFetch_SignatureSkippedWithoutKeyring(t *testing.T) {
	body := []byte("archive")
	server := signedServer(t, body, []byte("garbage"))
	art := artifactFor(server.URL+"/pkg.tar.gz", body)
	art.SignatureURL = server.URL + "/pkg.tar.gz.asc"

	res, err := New().Fetch(context.Background(), art, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Verified {
		t.Error("no keyring configured, Verified should be false")
	}
}

func TestLoadKeyring(t *testing.T) {
	signer := newSigner(t)
	dir := t.TempDir()

	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := signer.Serialize(w); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var binary bytes.Buffer
	if err := signer.Serialize(&binary); err != nil {
		t.Fatal(err)
	}

	for name, data := range map[string][]byte{"armored.asc": armored.Bytes(), "binary.gpg": binary.Bytes()} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatal(err)
			}
			keyring, err := LoadKeyring(path)
			if err != nil {
				t.Fatalf("LoadKeyring() error = %v", err)
			}
			if len(keyring) != 1 {
				t.Errorf("keyring has %d entities, want 1", len(keyring))
			}
		})
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKeyring(garbage); err == nil {
		t.Error("LoadKeyring() on garbage should fail")
	}
	if _, err := LoadKeyring(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadKeyring() on a missing file should fail")
	}
}
