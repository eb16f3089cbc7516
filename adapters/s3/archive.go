// Package s3 將抽獎紀錄等稽核資料以JSON存放在S3相容的物件儲存
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// ObjectAPI Archive使用到的S3操作，*s3.Client即滿足
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type archiveOptions struct {
	prefix   string
	maxBytes int64
}

type ArchiveOption func(*archiveOptions)

// WithArchivePrefix 設置物件key前綴
func WithArchivePrefix(prefix string) ArchiveOption {
	return func(o *archiveOptions) {
		o.prefix = prefix
	}
}

// WithArchiveMaxBytes 設置讀取單一物件的大小上限
func WithArchiveMaxBytes(n int64) ArchiveOption {
	return func(o *archiveOptions) {
		o.maxBytes = n
	}
}

type Archive struct {
	client  ObjectAPI
	bucket  string
	options archiveOptions
}

func NewArchive(client ObjectAPI, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if client == nil {
		return nil, errors.New("s3 client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("bucket cannot be empty")
	}
	options := archiveOptions{
		prefix:   "arena",
		maxBytes: 8 << 20,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Archive{client: client, bucket: bucket, options: options}, nil
}

func (a *Archive) objectKey(key string) string {
	return path.Join(a.options.prefix, key)
}

// Put 以JSON寫入v，相同key會被覆寫
func (a *Archive) Put(ctx context.Context, key string, v any) error {
	const op = "Archive.Put"
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode %s, err=%w", op, key, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to upload %s to S3, err=%w", op, key, err)
	}
	return nil
}

// Get 讀回Put寫入的內容，超過大小上限時回傳TooLargeError
func (a *Archive) Get(ctx context.Context, key string, v any) error {
	const op = "Archive.Get"
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to download %s from S3, err=%w", op, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(NewMaxSizeReader(out.Body, a.options.maxBytes))
	if err != nil {
		return fmt.Errorf("[%s] Fail to read %s, err=%w", op, key, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("[%s] Fail to decode %s, err=%w", op, key, err)
	}
	return nil
}
