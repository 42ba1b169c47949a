package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

// fileCreator is the part of the Drive API used to create one file.
type fileCreator interface {
	create(ctx context.Context, meta *drive.File, media io.Reader) (*drive.File, error)
}

type driveFiles struct {
	svc *drive.Service
}

func (d driveFiles) create(ctx context.Context, meta *drive.File, media io.Reader) (*drive.File, error) {
	return d.svc.Files.Create(meta).Media(media).Fields("id").Context(ctx).Do()
}

// Drive uploads into a Google Drive folder using a service account.
type Drive struct {
	files fileCreator
}

// NewDrive builds a Drive uploader from a service-account JSON key file.
func NewDrive(ctx context.Context, credentialsFile string) (*Drive, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Drive{files: driveFiles{svc: svc}}, nil
}

// Upload creates a file named after path's base name under folder.
func (d *Drive) Upload(ctx context.Context, path, folder string) (string, error) {
	if folder == "" {
		return "", ErrMissingFolder
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := filepath.Base(path)
	created, err := d.files.create(ctx, &drive.File{Name: name, Parents: []string{folder}}, f)
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", name, err)
	}
	logger.Debug("Upload", "Drive file %s -> %s", name, created.Id)
	return created.Id, nil
}
