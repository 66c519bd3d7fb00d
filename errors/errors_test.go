package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewIncludesCaller(t *testing.T) {
	err := New("bad thing: %d", 42)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "errors_test.go") {
		t.Errorf("expected caller file in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "bad thing: 42") {
		t.Errorf("expected formatted message, got %q", err.Error())
	}
}

func TestWrapfNil(t *testing.T) {
	if err := Wrapf(nil, "context"); err != nil {
		t.Errorf("Wrapf(nil) should be nil, got %v", err)
	}
}

func TestWrapfPreservesCause(t *testing.T) {
	cause := New("cause")
	err := Wrapf(cause, "while doing %s", "stuff")
	if !strings.Contains(err.Error(), "while doing stuff") {
		t.Errorf("missing context in %q", err.Error())
	}
	if !strings.Contains(err.Error(), "cause") {
		t.Errorf("missing cause in %q", err.Error())
	}
}

func TestKinds(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"direct", Kindf(KindTimeout, "no response"), KindTimeout, true},
		{"wrong kind", Kindf(KindTimeout, "no response"), KindChannel, false},
		{"attached", WithKind(KindSpawn, New("exec failed")), KindSpawn, true},
		{"wrapped", fmt.Errorf("outer: %w", Kindf(KindIO, "read")), KindIO, true},
		{"plain", New("plain"), KindIO, false},
		{"nil", nil, KindIO, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Is(tc.err, tc.kind); got != tc.want {
				t.Errorf("Is(%v, %s) = %v, want %v", tc.err, tc.kind, got, tc.want)
			}
		})
	}
}

func TestWithKindNil(t *testing.T) {
	if err := WithKind(KindIO, nil); err != nil {
		t.Errorf("WithKind(nil) should be nil, got %v", err)
	}
}
