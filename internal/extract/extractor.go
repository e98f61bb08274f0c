package extract

import (
	"context"
	"fmt"
)

// Extractor is the content-extraction boundary: artifact path in, plain
// text out. The orchestrator invokes it exactly once per execution attempt
// and hands the text to every downstream pipeline stage, so implementations
// never need to memoize or re-read.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractionError reports an artifact that is missing, unreadable, or not
// in the expected format. The artifact will not change between attempts,
// so this class of failure is never retried.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
