package uploads

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSaveRejectsDisallowedContentType(t *testing.T) {
	store, err := NewStore(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	_, err = store.Save(context.Background(), "owner-1", "payload.exe", "application/octet-stream", strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("expected ErrInvalidContentType, got %v", err)
	}
}
