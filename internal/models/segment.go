package models

// SegmentCombination interns a 10-dimensional segment tuple into a dense,
// per-loader integer code (§3, §4.4). Composite key is
// (LoaderCode, SegmentCode); the 10-tuple is unique per loader with
// null-equals-null comparison.
type SegmentCombination struct {
	LoaderCode  string
	SegmentCode int

	Segment1  *string
	Segment2  *string
	Segment3  *string
	Segment4  *string
	Segment5  *string
	Segment6  *string
	Segment7  *string
	Segment8  *string
	Segment9  *string
	Segment10 *string
}

// Tuple returns the 10 segment values as a fixed-size array, suitable as a
// map key once dereferenced through a sentinel for nil (see internal/segments).
func (s *SegmentCombination) Tuple() [10]*string {
	return [10]*string{
		s.Segment1, s.Segment2, s.Segment3, s.Segment4, s.Segment5,
		s.Segment6, s.Segment7, s.Segment8, s.Segment9, s.Segment10,
	}
}
