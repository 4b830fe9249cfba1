package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"gdpr-guardian/internal/domain"
)

// Source yields raw PII-bearing records for a subject.
type Source interface {
	Name() string
	Fetch(ctx context.Context, subjectEmail string) ([]domain.RawRecord, error)
}

// MessageExportSource reads a JSON array of exported messages
// (`[{"id","subject","body"}]`).
type MessageExportSource struct {
	fs   afero.Fs
	path string
}

// NewMessageExportSource creates a source over a message export file.
func NewMessageExportSource(fsys afero.Fs, path string) *MessageExportSource {
	return &MessageExportSource{fs: fsys, path: path}
}

func (s *MessageExportSource) Name() string { return "message_export" }

type exportedMessage struct {
	ID      json.RawMessage `json:"id"`
	Subject string          `json:"subject"`
	Body    string          `json:"body"`
}

func (s *MessageExportSource) Fetch(_ context.Context, _ string) ([]domain.RawRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var msgs []exportedMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	records := make([]domain.RawRecord, 0, len(msgs))
	for i, m := range msgs {
		id := strings.Trim(string(m.ID), `"`)
		if id == "" || id == "null" {
			id = fmt.Sprint(i + 1)
		}
		records = append(records, domain.RawRecord{
			Source:     s.Name(),
			ArtifactID: "msg_" + id,
			Type:       "email",
			Content:    m.Subject + ": " + m.Body,
		})
	}
	return records, nil
}

// ProfileSource reads a single CRM profile JSON object.
type ProfileSource struct {
	fs   afero.Fs
	path string
}

// NewProfileSource creates a source over a CRM profile file.
func NewProfileSource(fsys afero.Fs, path string) *ProfileSource {
	return &ProfileSource{fs: fsys, path: path}
}

func (s *ProfileSource) Name() string { return "crm_profile" }

type crmProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *ProfileSource) Fetch(_ context.Context, _ string) ([]domain.RawRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var p crmProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	id := p.ID
	if id == "" {
		id = "crm_1"
	}
	parts := []string{p.Name, p.Email, p.Address, p.Phone}
	return []domain.RawRecord{{
		Source:     s.Name(),
		ArtifactID: id,
		Type:       "profile",
		Content:    strings.Join(parts, ", "),
	}}, nil
}

// DirectorySource reads every regular text file under a directory.
type DirectorySource struct {
	fs  afero.Fs
	dir string
}

// NewDirectorySource creates a source over a directory of text files.
func NewDirectorySource(fsys afero.Fs, dir string) *DirectorySource {
	return &DirectorySource{fs: fsys, dir: dir}
}

func (s *DirectorySource) Name() string { return "files" }

func (s *DirectorySource) Fetch(ctx context.Context, _ string) ([]domain.RawRecord, error) {
	var records []domain.RawRecord
	err := afero.Walk(s.fs, s.dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		data, err := afero.ReadFile(s.fs, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		records = append(records, domain.RawRecord{
			Source:     s.Name(),
			ArtifactID: path.Base(p),
			Type:       "file",
			Content:    string(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ArtifactID < records[j].ArtifactID })
	return records, nil
}

// DefaultSources wires the file-backed sources under a data root, skipping
// those whose backing file does not exist.
func DefaultSources(fsys afero.Fs, root string) []Source {
	var out []Source
	if ok, _ := afero.Exists(fsys, path.Join(root, "message_export.json")); ok {
		out = append(out, NewMessageExportSource(fsys, path.Join(root, "message_export.json")))
	}
	if ok, _ := afero.Exists(fsys, path.Join(root, "crm_profile.json")); ok {
		out = append(out, NewProfileSource(fsys, path.Join(root, "crm_profile.json")))
	}
	if ok, _ := afero.DirExists(fsys, path.Join(root, "files")); ok {
		out = append(out, NewDirectorySource(fsys, path.Join(root, "files")))
	}
	return out
}
