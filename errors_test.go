package throng

import (
	"errors"
	"testing"
)

func TestUnknownStoreErrorMessage(t *testing.T) {
	err := &UnknownStoreError{Name: "widgets"}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestSerializationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &SerializationError{Message: "decode failed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestInconsistentDataErrorMessage(t *testing.T) {
	err := &InconsistentDataError{Store: "widgets", Remaining: 2}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}
