package repotest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"billbook-backend/internal/repositories"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// FakeObjectStore is an in-memory single-bucket S3. Listing pages by
// PageSize so continuation handling gets exercised.
type FakeObjectStore struct {
	Bucket   string
	PageSize int

	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]error
	// vanish hides keys from GetObject while still listing them.
	vanish map[string]bool
}

var _ repositories.ObjectAPI = (*FakeObjectStore)(nil)

func NewFakeObjectStore(bucket string) *FakeObjectStore {
	return &FakeObjectStore{
		Bucket:   bucket,
		PageSize: 1000,
		objects:  make(map[string][]byte),
		failures: make(map[string]error),
		vanish:   make(map[string]bool),
	}
}

// FailOn makes every call of the named S3 operation ("HeadBucket",
// "PutObject", "GetObject", "DeleteObject", "ListObjectsV2") return err.
func (f *FakeObjectStore) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// PutRaw stores body under key directly.
func (f *FakeObjectStore) PutRaw(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), body...)
}

// Vanish makes key listable but unreadable, as when it is deleted between
// a list and a get.
func (f *FakeObjectStore) Vanish(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vanish[key] = true
	if _, ok := f.objects[key]; !ok {
		f.objects[key] = nil
	}
}

func (f *FakeObjectStore) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedKeys("")
}

func (f *FakeObjectStore) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.fail("HeadBucket"); err != nil {
		return nil, err
	}
	if aws.ToString(params.Bucket) != f.Bucket {
		return nil, &types.NotFound{Message: aws.String("bucket not found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *FakeObjectStore) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.fail("PutObject"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	f.objects[key] = body
	delete(f.vanish, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeObjectStore) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.fail("GetObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	body, ok := f.objects[key]
	if !ok || f.vanish[key] {
		return nil, &types.NoSuchKey{Message: aws.String(key)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

// DeleteObject succeeds for absent keys, as S3 does.
func (f *FakeObjectStore) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.fail("DeleteObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	delete(f.objects, key)
	delete(f.vanish, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeObjectStore) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.fail("ListObjectsV2"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := f.sortedKeys(aws.ToString(params.Prefix))
	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, err
		}
		start = n
	}
	size := f.PageSize
	if size <= 0 {
		size = 1000
	}
	end := start + size
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[key]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *FakeObjectStore) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[op]
}

func (f *FakeObjectStore) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
