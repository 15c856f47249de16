package analysis

import (
	"testing"

	"resumealign/internal/errors"
	"resumealign/internal/types"

	"github.com/google/go-cmp/cmp"
)

func TestAssembleNormalizesCollections(t *testing.T) {
	out, err := Assemble(func() Outcome {
		return Outcome{Report: types.AnalysisReport{MatchScore: "50", Summary: "s"}, Strict: true}
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	want := Outcome{
		Report: types.AnalysisReport{
			MatchScore:       "50",
			Recommendations:  []string{},
			RewrittenBullets: map[string]string{},
			Summary:          "s",
		},
		Strict: true,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Assemble() mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleConvertsPanic(t *testing.T) {
	out, err := Assemble(func() Outcome {
		var in *Interpreter
		return in.Interpret("{}")
	})

	appErr, ok := errors.As(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != errors.ErrCodeProcessingFailed || appErr.Message != errors.ProcessingFailureMessage {
		t.Errorf("got %s %q", appErr.Code, appErr.Message)
	}
	if appErr.Cause == nil {
		t.Error("panic value should be kept as the cause")
	}
	if diff := cmp.Diff(Outcome{}, out); diff != "" {
		t.Errorf("outcome should be empty (-want +got):\n%s", diff)
	}
}
