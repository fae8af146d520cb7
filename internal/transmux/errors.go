package transmux

import (
	"errors"
	"fmt"
)

// Fatal, package-level sentinel errors. Per the error handling design,
// almost nothing in this package is fatal — desync, incomplete data, and
// forward PMT declarations are all recovered locally and never become Go
// errors that cross a stage boundary. ErrParseExhausted is the one
// genuine exception: it aborts parsing of the single NAL currently being
// interpreted, never the pipeline.
var (
	// ErrParseExhausted indicates the ExpGolomb reader ran past the end
	// of the supplied buffer. The caller (H264Parser) treats the NAL
	// being parsed as unparseable and discards it; the pipeline
	// continues with the next NAL.
	ErrParseExhausted = errors.New("transmux: bitstream exhausted during exp-golomb read")

	// ErrNoKeyframe documents, but is never returned as an error, the
	// condition where a video segment has no leading keyframe. The
	// VideoSegmentBuilder instead buffers the GOP and waits; see §4.9
	// and §7 of the design.
	ErrNoKeyframe = errors.New("transmux: segment has no leading keyframe (buffered, not fatal)")
)

// StageError attaches stage context to an error for logging purposes
// only. It is never returned across a Push/Flush boundary — §7 of the
// design is explicit that stage-local failures are absorbed, not
// propagated — so this type exists purely so log lines can report which
// stage produced a diagnostic without every stage re-deriving its own
// name string.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("transmux: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
