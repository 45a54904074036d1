package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lanclip/models"
)

// ImagePrefix is the locator namespace for stored originals.
const ImagePrefix = "images/"

// checkLocator rejects anything that is not a flat name under ImagePrefix.
func checkLocator(locator string) error {
	name := strings.TrimPrefix(locator, ImagePrefix)
	if name == locator || name == "" || name != path.Base(name) || name == "." || name == ".." {
		return models.ErrInvalid.New("bad asset locator %q", locator)
	}
	return nil
}

// LocalStorage implements StorageService for local disk.
type LocalStorage struct {
	DataDir string
}

// NewLocalStorage creates the images directory under dataDir.
func NewLocalStorage(dataDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, ImagePrefix), 0755); err != nil {
		return nil, fmt.Errorf("could not create image directory: %w", err)
	}
	return &LocalStorage{DataDir: dataDir}, nil
}

func (ls *LocalStorage) fullPath(locator string) (string, error) {
	if err := checkLocator(locator); err != nil {
		return "", err
	}
	return filepath.Join(ls.DataDir, filepath.FromSlash(locator)), nil
}

func (ls *LocalStorage) Save(_ context.Context, locator string, data []byte, _ string) error {
	fullPath, err := ls.fullPath(locator)
	if err != nil {
		return err
	}
	return os.WriteFile(fullPath, data, 0644)
}

func (ls *LocalStorage) Read(_ context.Context, locator string) ([]byte, error) {
	fullPath, err := ls.fullPath(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrNotFound.New("image file %s", locator)
	}
	return data, err
}

func (ls *LocalStorage) Delete(_ context.Context, locator string) error {
	fullPath, err := ls.fullPath(locator)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (ls *LocalStorage) List(_ context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(filepath.Join(ls.DataDir, ImagePrefix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	locators := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		locators = append(locators, ImagePrefix+de.Name())
	}
	return locators, nil
}

// S3Storage implements StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
}

func NewS3Storage(ctx context.Context, endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*S3Storage, error) {
	// Strip scheme if present
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Use IAM role credentials if keys are not provided
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &S3Storage{
		Client:     minioClient,
		BucketName: bucket,
	}, nil
}

func (s3 *S3Storage) Save(ctx context.Context, locator string, data []byte, contentType string) error {
	if err := checkLocator(locator); err != nil {
		return err
	}
	_, err := s3.Client.PutObject(ctx, s3.BucketName, locator, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s3 *S3Storage) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := checkLocator(locator); err != nil {
		return nil, err
	}
	obj, err := s3.Client.GetObject(ctx, s3.BucketName, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, models.ErrNotFound.New("image object %s", locator)
		}
		return nil, err
	}
	return data, nil
}

// Delete is idempotent: S3 reports success for absent keys.
func (s3 *S3Storage) Delete(ctx context.Context, locator string) error {
	if err := checkLocator(locator); err != nil {
		return err
	}
	return s3.Client.RemoveObject(ctx, s3.BucketName, locator, minio.RemoveObjectOptions{})
}

func (s3 *S3Storage) List(ctx context.Context) ([]string, error) {
	var locators []string
	for obj := range s3.Client.ListObjects(ctx, s3.BucketName, minio.ListObjectsOptions{Prefix: ImagePrefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		locators = append(locators, obj.Key)
	}
	return locators, nil
}
