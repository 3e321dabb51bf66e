package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeUploader struct {
	bucket, key, contentType, body string
	err                            error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.bucket = aws.ToString(input.Bucket)
	f.key = aws.ToString(input.Key)
	f.contentType = aws.ToString(input.ContentType)
	f.body = string(data)
	return &manager.UploadOutput{Key: input.Key}, nil
}

type fakeLocator struct {
	constraint types.BucketLocationConstraint
	err        error
	calls      int
}

func (f *fakeLocator) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetBucketLocationOutput{LocationConstraint: f.constraint}, nil
}

var testNow = time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("slack_messages", testNow); got != "slack_messages_2024-03-05-07-08-09.txt" {
		t.Errorf("ObjectKey() = %q", got)
	}
}

func TestS3Store_Store(t *testing.T) {
	uploader := &fakeUploader{}
	locator := &fakeLocator{constraint: types.BucketLocationConstraintApNortheast1}
	store := NewS3StoreWith(uploader, locator)
	store.SetClock(func() time.Time { return testNow })

	url, err := store.Store(context.Background(), "reports", "slack_messages", "line one\n")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	want := "https://reports.s3.ap-northeast-1.amazonaws.com/slack_messages_2024-03-05-07-08-09.txt"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if uploader.bucket != "reports" || uploader.key != "slack_messages_2024-03-05-07-08-09.txt" {
		t.Errorf("uploaded to %s/%s", uploader.bucket, uploader.key)
	}
	if uploader.body != "line one\n" {
		t.Errorf("body = %q", uploader.body)
	}
	if uploader.contentType != ContentType {
		t.Errorf("content type = %q", uploader.contentType)
	}
}

func TestS3Store_RegionCached(t *testing.T) {
	locator := &fakeLocator{constraint: "eu-central-1"}
	store := NewS3StoreWith(&fakeUploader{}, locator)

	for i := 0; i < 3; i++ {
		if _, err := store.Store(context.Background(), "reports", "p", "x"); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
	if locator.calls != 1 {
		t.Errorf("GetBucketLocation calls = %d, want 1", locator.calls)
	}
}

func TestNormalizeRegion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "us-east-1"},
		{"EU", "eu-west-1"},
		{"ap-northeast-1", "ap-northeast-1"},
	}

	for _, tt := range tests {
		if got := normalizeRegion(tt.in); got != tt.want {
			t.Errorf("normalizeRegion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestS3Store_Errors(t *testing.T) {
	uploadErr := errors.New("AccessDenied")
	locateErr := errors.New("NoSuchBucket")

	tests := []struct {
		name     string
		uploader *fakeUploader
		locator  *fakeLocator
		bucket   string
		wantErr  error
	}{
		{name: "no bucket", uploader: &fakeUploader{}, locator: &fakeLocator{}, bucket: ""},
		{name: "upload fails", uploader: &fakeUploader{err: uploadErr}, locator: &fakeLocator{}, bucket: "b", wantErr: uploadErr},
		{name: "location fails", uploader: &fakeUploader{}, locator: &fakeLocator{err: locateErr}, bucket: "b", wantErr: locateErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewS3StoreWith(tt.uploader, tt.locator)
			url, err := store.Store(context.Background(), tt.bucket, "p", "x")
			if err == nil {
				t.Fatal("Store() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Store() error = %v, want %v", err, tt.wantErr)
			}
			if url != "" {
				t.Errorf("url = %q, want empty", url)
			}
		})
	}
}
