// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package demoexports

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArchiveSink is an exported io.WriteCloser that streams pipe bytes
// directly into an S3 multipart upload, so a controller-side pipe
// write lands in object storage without ever touching local disk.
type S3ArchiveSink struct {
	pw   *io.PipeWriter
	done chan error
}

// NewS3ArchiveSink starts a multipart upload to bucket/key using
// uploader and returns an exported writer streaming into it. The
// upload itself runs on its own goroutine for the sink's whole
// lifetime; Close blocks until it finishes and returns its error.
func NewS3ArchiveSink(ctx context.Context, uploader *manager.Uploader, bucket, key string) *S3ArchiveSink {
	pr, pw := io.Pipe()
	sink := &S3ArchiveSink{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   pr,
		})
		if err != nil {
			pr.CloseWithError(err)
			sink.done <- fmt.Errorf("demoexports: s3 upload of s3://%s/%s: %w", bucket, key, err)
			return
		}
		sink.done <- nil
	}()

	return sink
}

func (s *S3ArchiveSink) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

func (s *S3ArchiveSink) Close() error {
	if err := s.pw.Close(); err != nil {
		return err
	}
	return <-s.done
}
