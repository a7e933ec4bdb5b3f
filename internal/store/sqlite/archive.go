package sqlite

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Archiver uploads a checkpoint snapshot of the database file to S3.
// Grounded on the teacher's plugin/attach/s3store.load/Store for the
// LoadDefaultConfig + PutObject shape, generalized from attachment bytes to
// a whole-file snapshot keyed by checkpoint timestamp.
type s3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Archiver(ctx context.Context, bucket, prefix string) (*s3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &s3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// archive uploads the file at dbPath under a timestamped key so successive
// checkpoints accumulate snapshots rather than overwrite one another.
func (a *s3Archiver) archive(ctx context.Context, dbPath string) error {
	f, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open db file for archival: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db file for archival: %w", err)
	}

	key := a.key(dbPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("put checkpoint snapshot: %w", err)
	}
	return nil
}

func (a *s3Archiver) key(dbPath string) string {
	name := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path.Base(dbPath), path.Ext(dbPath)), time.Now().UnixNano(), path.Ext(dbPath))
	if a.prefix != "" {
		return a.prefix + "/" + name
	}
	return name
}
