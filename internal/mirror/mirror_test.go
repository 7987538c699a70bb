package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type mockPutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (m *mockPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, _ := io.ReadAll(in.Body)
	m.inputs = append(m.inputs, in)
	m.bodies = append(m.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func TestDir_Copy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "share")
	d := Dir{Path: dir}

	if err := d.Copy(context.Background(), "a.jpg", "image/jpeg", []byte("img")); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a.jpg"))
	if err != nil || string(data) != "img" {
		t.Errorf("mirrored = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.jpg.part")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestDir_CopyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Dir{Path: t.TempDir()}).Copy(ctx, "a.jpg", "", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestS3_Copy(t *testing.T) {
	mp := &mockPutter{}
	s := newS3(mp, "ecotion-images", "uploads/2025")

	if err := s.Copy(context.Background(), "a.jpg", "image/jpeg", []byte("img")); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(mp.inputs) != 1 {
		t.Fatalf("puts = %d", len(mp.inputs))
	}
	in := mp.inputs[0]
	if aws.ToString(in.Bucket) != "ecotion-images" || aws.ToString(in.Key) != "uploads/2025/a.jpg" {
		t.Errorf("put = %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "image/jpeg" || mp.bodies[0] != "img" {
		t.Errorf("content = %s %q", aws.ToString(in.ContentType), mp.bodies[0])
	}
}

func TestS3_Key(t *testing.T) {
	if got := newS3(nil, "b", "").Key("dir/a.jpg"); got != "a.jpg" {
		t.Errorf("Key = %q", got)
	}
}

func TestS3_CopyError(t *testing.T) {
	s := newS3(&mockPutter{err: errors.New("AccessDenied")}, "b", "")
	err := s.Copy(context.Background(), "a.jpg", "", nil)
	if err == nil || !strings.Contains(err.Error(), "s3://b/a.jpg") {
		t.Errorf("err = %v", err)
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Opts{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestMulti_Copy(t *testing.T) {
	ok := &mockPutter{}
	m := Multi{newS3(&mockPutter{err: errors.New("down")}, "b1", ""), newS3(ok, "b2", "")}

	err := m.Copy(context.Background(), "a.jpg", "", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "mirror: s3:") {
		t.Errorf("err = %v", err)
	}
	if len(ok.inputs) != 1 {
		t.Error("second target not reached after first failed")
	}
}
