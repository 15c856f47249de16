package analysis

import (
	"fmt"

	"resumealign/internal/errors"
)

// Assemble runs interpret and returns its outcome with the report in
// canonical shape. A panic inside interpret is turned into a processing
// failure instead of reaching the caller.
func Assemble(interpret func() Outcome) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = errors.NewProcessingFailure(fmt.Errorf("interpreting reply: %v", r))
		}
	}()

	out = interpret()
	if out.Report.Recommendations == nil {
		out.Report.Recommendations = []string{}
	}
	if out.Report.RewrittenBullets == nil {
		out.Report.RewrittenBullets = map[string]string{}
	}
	return out, nil
}
