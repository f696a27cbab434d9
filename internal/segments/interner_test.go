package segments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory Store double, not safe for concurrent
// use, used to exercise the allocation/collision-retry contract without a
// database.
type fakeStore struct {
	rows map[string]map[string]int // loaderCode -> tuple key -> code
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[string]int)}
}

func (f *fakeStore) FindCode(_ context.Context, loaderCode string, tuple Tuple) (int, bool, error) {
	byTuple, ok := f.rows[loaderCode]
	if !ok {
		return 0, false, nil
	}
	code, ok := byTuple[tuple.key()]
	return code, ok, nil
}

func (f *fakeStore) NextCode(_ context.Context, loaderCode string) (int, error) {
	max := 0
	for _, code := range f.rows[loaderCode] {
		if code > max {
			max = code
		}
	}
	return max + 1, nil
}

func (f *fakeStore) Insert(_ context.Context, loaderCode string, code int, tuple Tuple) error {
	byTuple, ok := f.rows[loaderCode]
	if !ok {
		byTuple = make(map[string]int)
		f.rows[loaderCode] = byTuple
	}
	for _, existing := range byTuple {
		if existing == code {
			return ErrCollision
		}
	}
	byTuple[tuple.key()] = code
	return nil
}

func strptr(s string) *string { return &s }

func TestGetOrCreateSegmentCode_AllNullIsValid(t *testing.T) {
	svc := NewService(newFakeStore())
	code, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", Tuple{})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestGetOrCreateSegmentCode_Idempotent(t *testing.T) {
	svc := NewService(newFakeStore())
	tuple := Tuple{strptr("us-east"), strptr("gold")}

	code1, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", tuple)
	require.NoError(t, err)

	code2, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", tuple)
	require.NoError(t, err)

	assert.Equal(t, code1, code2)
}

func TestGetOrCreateSegmentCode_DistinctTuplesGetDistinctCodes(t *testing.T) {
	svc := NewService(newFakeStore())

	code1, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", Tuple{strptr("a")})
	require.NoError(t, err)

	code2, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", Tuple{strptr("b")})
	require.NoError(t, err)

	assert.NotEqual(t, code1, code2)
}

func TestGetOrCreateSegmentCode_PerLoaderIsolation(t *testing.T) {
	svc := NewService(newFakeStore())
	tuple := Tuple{strptr("shared")}

	codeA, err := svc.GetOrCreateSegmentCode(context.Background(), "LOADER_A", tuple)
	require.NoError(t, err)

	codeB, err := svc.GetOrCreateSegmentCode(context.Background(), "LOADER_B", tuple)
	require.NoError(t, err)

	assert.Equal(t, 1, codeA)
	assert.Equal(t, 1, codeB)
}

// siblingRaceStore lets the first NextCode call hand out a code and then
// records a sibling replica taking that same code for the same tuple, so
// the following Insert collides.
type siblingRaceStore struct {
	*fakeStore
	tuple Tuple
	raced bool
}

func (s *siblingRaceStore) NextCode(ctx context.Context, loaderCode string) (int, error) {
	code, err := s.fakeStore.NextCode(ctx, loaderCode)
	if err == nil && !s.raced {
		s.raced = true
		s.fakeStore.rows[loaderCode] = map[string]int{s.tuple.key(): code}
	}
	return code, err
}

func TestGetOrCreateSegmentCode_CollisionRetriesAndReadsWinner(t *testing.T) {
	tuple := Tuple{strptr("contended")}
	store := &siblingRaceStore{fakeStore: newFakeStore(), tuple: tuple}
	svc := NewService(store)

	// Simulate a sibling replica taking code 1 for this exact tuple after
	// our lookup missed but before our insert attempt runs.
	code, err := svc.GetOrCreateSegmentCode(context.Background(), "L1", tuple)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}
