package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"gdpr-guardian/internal/domain"
)

// Verify checks a bundle's checksum, every manifest digest and the audit
// hash chain. It returns the manifest of an intact bundle.
func Verify(data []byte) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = b
	}

	manifestData, ok := files[FileManifest]
	if !ok {
		return nil, fmt.Errorf("bundle has no %s", FileManifest)
	}
	want := strings.TrimSpace(string(files[FileChecksum]))
	if got := "sha256:" + digest(manifestData); got != want {
		return nil, fmt.Errorf("bundle checksum mismatch: recorded %q, computed %q", want, got)
	}

	var m Manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.Checksum = want
	listed := map[string]bool{FileManifest: true, FileChecksum: true}
	for _, e := range m.Files {
		b, ok := files[e.Name]
		if !ok {
			return nil, fmt.Errorf("manifest lists missing member %s", e.Name)
		}
		if got := digest(b); got != e.SHA256 {
			return nil, fmt.Errorf("member %s digest mismatch", e.Name)
		}
		listed[e.Name] = true
	}
	for name := range files {
		if !listed[name] {
			return nil, fmt.Errorf("member %s is not listed in the manifest", name)
		}
	}

	var trail []domain.AuditEvent
	if err := json.Unmarshal(files[FileAuditLog], &trail); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	if err := domain.VerifyChain(trail); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return &m, nil
}
