package resilience

import (
	"errors"
	"testing"
)

func TestTransientPermanent_Wrap(t *testing.T) {
	base := errors.New("boom")

	te := Transient("fanout", base)
	if !IsTransient(te) {
		t.Error("expected Transient() result to be IsTransient")
	}
	if IsPermanent(te) {
		t.Error("did not expect Transient() result to be IsPermanent")
	}
	if !errors.Is(te, base) {
		t.Error("expected Unwrap to reach base error")
	}

	pe := Permanent("fanout", base)
	if !IsPermanent(pe) {
		t.Error("expected Permanent() result to be IsPermanent")
	}
	if IsTransient(pe) {
		t.Error("did not expect Permanent() result to be IsTransient")
	}
}

func TestTransientPermanent_NilPassthrough(t *testing.T) {
	if Transient("op", nil) != nil {
		t.Error("Transient(nil) should return nil")
	}
	if Permanent("op", nil) != nil {
		t.Error("Permanent(nil) should return nil")
	}
}

func TestClassifyAdapterError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{"unauthorized response", errors.New("401 unauthorized"), true},
		{"forbidden response", errors.New("request forbidden"), true},
		{"schema mismatch", errors.New("schema mismatch: unknown column foo"), true},
		{"generic network error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyAdapterError(tt.err)
			if IsPermanent(classified) != tt.wantPermanent {
				t.Errorf("ClassifyAdapterError(%v) permanent = %v, want %v", tt.err, IsPermanent(classified), tt.wantPermanent)
			}
		})
	}
}

func TestClassifyAdapterError_AlreadyClassified(t *testing.T) {
	pe := Permanent("op", errors.New("already done"))
	if ClassifyAdapterError(pe) != pe {
		t.Error("ClassifyAdapterError should pass through already-classified errors unchanged")
	}
}
