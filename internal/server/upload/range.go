// Package upload implements the resumable chunked-upload pipeline: the
// content-range validator, the upload session store and its state machine,
// and the coordinator that drives chunks from validation through durable
// storage to finalization.
package upload

import (
	"fmt"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
)

// ContentRange describes one chunk's declared byte range. End is inclusive,
// so a chunk carrying bytes 0..999 of a 1500-byte upload is {0, 999, 1500}.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// Len returns the number of bytes the range declares.
func (r ContentRange) Len() int64 {
	return r.End - r.Start + 1
}

func (r ContentRange) String() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// Validate decides whether a chunk may be appended to a session that has
// stored bytesStored of total declared bytes. For the first chunk of a new
// session the caller passes bytesStored=0 and total=r.Total.
//
// Rules:
//   - the declared range length must equal the actual payload byte count,
//   - r.Start must equal bytesStored exactly (no gaps, overlap or reordering),
//   - r.Total must match the total fixed at session creation,
//   - the range must lie within the declared total.
//
// Validate is pure: it never mutates state.
func Validate(r ContentRange, payloadLen, bytesStored, total int64) error {
	if r.Start < 0 || r.End < r.Start || r.Total < 1 {
		return fmt.Errorf("%w: malformed range %v", common.ErrContentRangeMismatch, r)
	}
	if r.Len() != payloadLen {
		return fmt.Errorf("%w: range %v declares %d bytes, payload has %d",
			common.ErrContentRangeNotMatchingFileSize, r, r.Len(), payloadLen)
	}
	if r.Total != total {
		return fmt.Errorf("%w: range total %d, session total %d",
			common.ErrContentRangeMismatch, r.Total, total)
	}
	if r.Start != bytesStored {
		return fmt.Errorf("%w: range starts at %d, session has %d bytes",
			common.ErrContentRangeMismatch, r.Start, bytesStored)
	}
	if r.End >= r.Total {
		return fmt.Errorf("%w: range %v exceeds declared total", common.ErrContentRangeMismatch, r)
	}
	return nil
}
