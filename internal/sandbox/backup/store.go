package backup

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// Store holds per-project per-file snapshots in S3, independent of the
// sandbox's own lifecycle. Objects are keyed {prefix}/{projectID}/{path}
// so a whole project restores with one prefix listing.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewStore(ctx context.Context, cfg config.BackupConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket required")
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.KeyPrefix, "/"),
	}, nil
}

// NewStoreWithClient wires an explicit client; tests use it.
func NewStoreWithClient(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// HasBackup reports whether any snapshot object exists for the project.
func (s *Store) HasBackup(ctx context.Context, projectID string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.projectPrefix(projectID)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list backup for project %s: %w", projectID, err)
	}
	return len(out.Contents) > 0, nil
}

// RestoreFiles reads back the full snapshot set for a project.
func (s *Store) RestoreFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error) {
	prefix := s.projectPrefix(projectID)

	var files []domain.ProjectFile
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backup for project %s: %w", projectID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			content, err := s.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			files = append(files, domain.ProjectFile{
				Path:    strings.TrimPrefix(key, prefix),
				Content: content,
			})
		}
	}
	return files, nil
}

// BackupFile snapshots one file.
func (s *Store) BackupFile(ctx context.Context, projectID, path, content string) error {
	key := s.projectPrefix(projectID) + strings.TrimPrefix(path, "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(content),
	})
	if err != nil {
		return fmt.Errorf("backup %s for project %s: %w", path, projectID, err)
	}
	return nil
}

// BackupFiles snapshots a batch, stopping at the first failure.
func (s *Store) BackupFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error {
	for _, f := range files {
		if err := s.BackupFile(ctx, projectID, f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getObject(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get backup object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read backup object %s: %w", key, err)
	}
	return string(data), nil
}

func (s *Store) projectPrefix(projectID string) string {
	return s.prefix + "/" + projectID + "/"
}
