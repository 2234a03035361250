package preprocess

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/brainvol/segforge/internal/apierr"
)

// blob is the on-disk shape of a saved preprocessed tensor, written to
// temp/preprocess/<studyID>.blob per spec.md's on-disk layout so a
// later inference call can skip straight to prediction.
type blob struct {
	StudyID  string
	Tensor   Tensor
	Snapshot ConfigSnapshot
}

// SaveBlob gob-encodes tensor and snapshot to dir/studyID.blob,
// creating dir if needed, and returns the path written.
func SaveBlob(dir, studyID string, tensor *Tensor, snapshot ConfigSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierr.Wrap(apierr.IOFailure, err, "create preprocessed blob dir")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob{StudyID: studyID, Tensor: *tensor, Snapshot: snapshot}); err != nil {
		return "", apierr.Wrap(apierr.IOFailure, err, "encode preprocessed blob")
	}
	path := filepath.Join(dir, studyID+".blob")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", apierr.Wrap(apierr.IOFailure, err, "write preprocessed blob")
	}
	return path, nil
}

// LoadBlob reverses SaveBlob, locating the file by name (with or
// without the .blob extension) inside dir.
func LoadBlob(dir, name string) (*Tensor, ConfigSnapshot, string, error) {
	base := name
	if filepath.Ext(base) != ".blob" {
		base += ".blob"
	}
	path := filepath.Join(dir, base)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigSnapshot{}, "", apierr.New(apierr.StudyNotFound, "no preprocessed blob %q", name)
	}
	var b blob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, ConfigSnapshot{}, "", apierr.Wrap(apierr.IOFailure, err, "decode preprocessed blob")
	}
	return &b.Tensor, b.Snapshot, b.StudyID, nil
}
