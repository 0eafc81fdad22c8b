package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestRepositoryErrorKind(t *testing.T) {
	err := New(KindNotFound, "central", "missing")
	if !Is(err, KindNotFound) {
		t.Error("Expected KindNotFound")
	}
	if Is(err, KindOffline) {
		t.Error("Did not expect KindOffline")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !Is(wrapped, KindNotFound) {
		t.Error("Kind should survive wrapping")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindTransferFailed, "r", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestAggregatedBatch(t *testing.T) {
	if NewAggregatedBatch("failed", nil) != nil {
		t.Error("Empty error list should yield nil")
	}

	inner := New(KindOffline, "r1", "offline")
	batch := NewAggregatedBatch("resolution failed", []error{inner, errors.New("other")})
	if batch == nil {
		t.Fatal("Expected non-nil batch error")
	}

	var re *RepositoryError
	if !errors.As(batch, &re) {
		t.Error("errors.As should find the wrapped RepositoryError")
	}
	if re.RepositoryID != "r1" {
		t.Errorf("Expected repository r1, got %s", re.RepositoryID)
	}
}
