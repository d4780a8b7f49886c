package index

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *BadgerIndex {
	t.Helper()
	idx, err := NewBadgerIndex(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerIndex: %v", err)
	}
	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return idx
}

func testAsset(id string, uploadedAt time.Time) Asset {
	return Asset{
		ID:           id,
		OriginalName: "photo.jpg",
		Filename:     id + ".jpg",
		Path:         "images/" + id + ".jpg",
		Size:         1234,
		MimeType:     "image/jpeg",
		Disk:         "local",
		UploadedBy:   "user-1",
		UploadedAt:   uploadedAt,
	}
}

func TestBadgerPutGetRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	want := testAsset("11111111-1111-1111-1111-111111111111", time.Now().UTC().Truncate(time.Second))

	if err := idx.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := idx.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != want.ID || got.OriginalName != want.OriginalName || got.Filename != want.Filename ||
		got.Path != want.Path || got.Size != want.Size || got.MimeType != want.MimeType ||
		got.Disk != want.Disk || got.UploadedBy != want.UploadedBy || !got.UploadedAt.Equal(want.UploadedAt) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestBadgerGetMissing(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestBadgerPutReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	a := testAsset("22222222-2222-2222-2222-222222222222", time.Now().UTC().Truncate(time.Second))

	if err := idx.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	a.Disk = "s3"
	if err := idx.Put(ctx, a); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := idx.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Disk != "s3" {
		t.Errorf("Disk = %q after replace, want s3", got.Disk)
	}
}

func TestBadgerDeleteIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	a := testAsset("33333333-3333-3333-3333-333333333333", time.Now().UTC())

	if err := idx.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := idx.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := idx.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := idx.Delete(ctx, a.ID); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

func TestBadgerListNewestFirst(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	oldest := testAsset("44444444-4444-4444-4444-444444444444", base.Add(-2*time.Hour))
	middle := testAsset("55555555-5555-5555-5555-555555555555", base.Add(-time.Hour))
	latest := testAsset("66666666-6666-6666-6666-666666666666", base)
	for _, a := range []Asset{middle, oldest, latest} {
		if err := idx.Put(ctx, a); err != nil {
			t.Fatalf("Put(%s): %v", a.ID, err)
		}
	}

	got, err := idx.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List returned %d assets, want 3", len(got))
	}
	if got[0].ID != latest.ID || got[1].ID != middle.ID || got[2].ID != oldest.ID {
		t.Errorf("List order = [%s %s %s], want newest first", got[0].ID, got[1].ID, got[2].ID)
	}
}
