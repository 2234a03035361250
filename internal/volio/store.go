package volio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brainvol/segforge/internal/volio/dicomseries"
	"github.com/brainvol/segforge/internal/volio/nifti"
)

// Mirror is an optional object-storage mirror for volumes and their
// rendered artifacts. A nil *Mirror disables mirroring entirely.
type Mirror struct {
	client *minio.Client
	bucket string
}

// MirrorConfig is the subset of config.Config the mirror needs, kept
// narrow so this package doesn't import the config package.
type MirrorConfig struct {
	Enabled   bool
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMirror connects to the configured MinIO/S3 endpoint, or returns
// (nil, nil) when mirroring is disabled.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("volio: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("volio: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("volio: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

// PutFile uploads localPath under objectKey, a no-op when m is nil.
func (m *Mirror) PutFile(ctx context.Context, objectKey, localPath string) error {
	if m == nil {
		return nil
	}
	_, err := m.client.FPutObject(ctx, m.bucket, objectKey, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("volio: mirror put %s: %w", objectKey, err)
	}
	return nil
}

// FetchFile downloads objectKey to localPath, a no-op returning
// (false, nil) when m is nil or the object is absent.
func (m *Mirror) FetchFile(ctx context.Context, objectKey, localPath string) (bool, error) {
	if m == nil {
		return false, nil
	}
	err := m.client.FGetObject(ctx, m.bucket, objectKey, localPath, minio.GetObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("volio: mirror fetch %s: %w", objectKey, err)
	}
	return true, nil
}

// Store is the volume-level read/write entry point for the rest of the
// pipeline: LoadFile reads through the NIfTI codec and LoadDICOMSeries
// through the DICOM-series assembler (the caller picks which), and
// written artifacts are optionally mirrored to object storage.
type Store struct {
	mirror *Mirror
}

// NewStore builds a Store, optionally backed by an object-storage mirror.
func NewStore(mirror *Mirror) *Store {
	return &Store{mirror: mirror}
}

// LoadFile reads a single-file volume (NIfTI, ".nii" or ".nii.gz").
func (s *Store) LoadFile(path string) (*Volume, error) {
	return nifti.Read(path)
}

// LoadDICOMSeries assembles a volume from a set of DICOM instance files
// belonging to the same series.
func (s *Store) LoadDICOMSeries(paths []string) (*Volume, error) {
	return dicomseries.Read(paths)
}

// SaveFile writes vol to path as NIfTI and mirrors it under objectKey
// when a mirror is configured.
func (s *Store) SaveFile(ctx context.Context, path, objectKey string, vol *Volume) error {
	if err := nifti.Write(path, vol); err != nil {
		return err
	}
	return s.mirror.PutFile(ctx, objectKey, path)
}

// IsNIfTIName reports whether name carries a recognized NIfTI extension.
func IsNIfTIName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// IsDICOMName reports whether name looks like a DICOM instance file by
// extension (".dcm" or no extension at all, the common bare-file
// convention for exported series).
func IsDICOMName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".dcm" || ext == ""
}
