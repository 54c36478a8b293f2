package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	putErr    error
	getBody   []byte
	getErr    error
	deleteErr error
	putCalls  int
}

func (f *fakeS3) PutObject(_ context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putCalls++
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, _ *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, f.deleteErr
}

func TestPut_ReturnsURL(t *testing.T) {
	store := NewWithClient(&fakeS3{}, "documents")
	url, err := store.Put(context.Background(), "docs/vuk.pdf", []byte("content"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "s3://documents/docs/vuk.pdf"
	if url != want {
		t.Errorf("got %q want %q", url, want)
	}
}

func TestPut_Error(t *testing.T) {
	store := NewWithClient(&fakeS3{putErr: errors.New("fail")}, "documents")
	_, err := store.Put(context.Background(), "k", []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGet_Success(t *testing.T) {
	store := NewWithClient(&fakeS3{getBody: []byte("pdf bytes")}, "documents")
	data, err := store.Get(context.Background(), "docs/vuk.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("got %q", data)
	}
}

func TestGet_Error(t *testing.T) {
	store := NewWithClient(&fakeS3{getErr: errors.New("not found")}, "documents")
	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	store := NewWithClient(&fakeS3{}, "documents")
	if err := store.Delete(context.Background(), "docs/vuk.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
