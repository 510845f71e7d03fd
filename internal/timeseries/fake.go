package timeseries

import (
	"context"
	"sync"

	"github.com/valorence/relayctl/internal/model"
)

// FakeStore is an in-memory Store for tests. FailNext, if positive, makes
// that many subsequent Write calls fail before reverting to success.
type FakeStore struct {
	mu       sync.Mutex
	written  []model.Sample
	writeErr error
	FailNext int
	Writes   int
}

func (f *FakeStore) Write(ctx context.Context, samples []model.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++
	if f.FailNext > 0 {
		f.FailNext--
		if f.writeErr == nil {
			return errFakeWrite
		}
		return f.writeErr
	}
	f.written = append(f.written, samples...)
	return nil
}

func (f *FakeStore) Query(ctx context.Context, q Query) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pts []Point
	for _, s := range f.written {
		if q.SourceID != "" && s.SourceID != q.SourceID {
			continue
		}
		v, ok := s.Fields[q.Field]
		if !ok {
			continue
		}
		pts = append(pts, Point{Value: v})
	}
	return Result{Data: pts}, nil
}

func (f *FakeStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

type fakeWriteError struct{}

func (fakeWriteError) Error() string { return "fake store write failure" }

var errFakeWrite = fakeWriteError{}
