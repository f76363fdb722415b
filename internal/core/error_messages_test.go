package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"upstream", Errorf(KindUpstream, "acquire.version", "status 503"), "SRC001"},
		{"integrity", Errorf(KindIntegrity, "acquire.verify", "md5 mismatch"), "SRC002"},
		{"extraction", Errorf(KindExtraction, "acquire.extract", "zip: not a valid zip file"), "FILE001"},
		{"io", Errorf(KindIO, "transform.process", "open: no such file"), "FILE002"},
		{"parse", Errorf(KindParse, "transform.process", "wrong number of fields"), "FILE003"},
		{"validation", Errorf(KindValidation, "transform.process", "non-finite coordinate"), "VAL001"},
		{"not found", Errorf(KindNotFound, "registry.update", "no record"), "NF001"},
		{"persistence", Errorf(KindPersistence, "registry.update", "syntax error"), "DB001"},
		{"persistence refused", Errorf(KindPersistence, "registry.list", "dial tcp: connection refused"), "DB002"},
		{"unclassified reset", errors.New("read: connection reset by peer"), "DB003"},
		{"persistence timeout", Errorf(KindPersistence, "import", "context deadline exceeded"), "DB004"},
		{"wrapped kind survives", fmt.Errorf("process 2024-01/TR04.csv: %w", Errorf(KindIO, "op", "gone")), "FILE002"},
		{"run in progress", fmt.Errorf("trigger: %w", ErrRunInProgress), "RUN001"},
		{"upstream timeout keeps kind", Errorf(KindUpstream, "acquire.version", "Client.Timeout exceeded"), "SRC001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := Errorf(KindNotFound, "registry.update", "no record with id %q", "x")
	result := FormatUserError(err)

	expected := "The requested data source was not found (Code: NF001). List the version to find valid ids"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", E(KindPersistence, "registry.update", base))

	if !errors.Is(err, ErrPersistence) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should not match a different kind")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	if KindOf(err) != KindPersistence {
		t.Errorf("KindOf = %v, want %v", KindOf(err), KindPersistence)
	}
	if KindOf(base) != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want %v", KindOf(base), KindUnknown)
	}
	if E(KindIO, "op", nil) != nil {
		t.Error("E with nil error should return nil")
	}

	want := "registry.update: PersistenceError: boom"
	if got := E(KindPersistence, "registry.update", base).Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := ErrNotFound.Error(); got != "NotFoundError" {
		t.Errorf("sentinel Error() = %q", got)
	}
}
