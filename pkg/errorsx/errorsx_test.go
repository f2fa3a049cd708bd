package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTTSStatus)
	if Reason(err) != ReasonTTSStatus {
		t.Fatalf("expected reason %s, got %s", ReasonTTSStatus, Reason(err))
	}
	if !HasReason(err, ReasonTTSStatus) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonCaptionedDecode)
	second := Wrap(fmt.Errorf("native: %w", first), ReasonTTSConnect)
	if Reason(second) != ReasonCaptionedDecode {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonTTSConnect) != nil {
		t.Fatalf("expected nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

func TestNewUnwraps(t *testing.T) {
	err := New(ReasonConfigInvalid, "bad")
	if err.Error() != "bad" || Reason(err) != ReasonConfigInvalid {
		t.Fatalf("unexpected error %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("expected inner error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestPermanent(t *testing.T) {
	if !Permanent(New(ReasonConfigInvalid, "bad voice")) {
		t.Fatalf("expected config errors to be permanent")
	}
	if Permanent(Wrap(errors.New("dial tcp"), ReasonTTSConnect)) {
		t.Fatalf("expected connect errors to be retryable")
	}
	if Permanent(nil) || Permanent(errors.New("plain")) {
		t.Fatalf("expected nil and unreasoned errors to be retryable")
	}
}
