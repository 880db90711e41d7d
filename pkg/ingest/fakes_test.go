package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/polydash/ingestion/pkg/bitquery"
	"github.com/polydash/ingestion/pkg/db/models"
)

func event(block int64, args ...string) bitquery.Event {
	ev := bitquery.Event{
		Block:       bitquery.Block{Time: "2024-05-01T10:00:00Z", Number: bitquery.Scalar(fmt.Sprint(block))},
		Transaction: bitquery.Transaction{Hash: fmt.Sprintf("0xtx%d", block)},
	}
	for i := 0; i+1 < len(args); i += 2 {
		ev.Arguments = append(ev.Arguments, bitquery.Argument{
			Name:  args[i],
			Value: bitquery.Value{String: bitquery.Scalar(args[i+1])},
		})
	}
	return ev
}

// fakeFetcher serves canned events per stream. before, when set, runs at the start of every
// fetch and may block.
type fakeFetcher struct {
	mu     sync.Mutex
	events map[Stream][]bitquery.Event
	errs   map[Stream][]error
	calls  map[Stream]int
	before func(ctx context.Context, s Stream) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		events: map[Stream][]bitquery.Event{},
		errs:   map[Stream][]error{},
		calls:  map[Stream]int{},
	}
}

// failNext queues errors returned by the next fetches of s, one per call.
func (f *fakeFetcher) failNext(s Stream, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[s] = append(f.errs[s], errs...)
}

func (f *fakeFetcher) set(s Stream, evs ...bitquery.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[s] = evs
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) callsFor(s Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[s]
}

func (f *fakeFetcher) fetch(ctx context.Context, s Stream) ([]bitquery.Event, error) {
	f.mu.Lock()
	f.calls[s]++
	before := f.before
	var err error
	if len(f.errs[s]) > 0 {
		err = f.errs[s][0]
		f.errs[s] = f.errs[s][1:]
	}
	evs := f.events[s]
	f.mu.Unlock()

	if before != nil {
		if berr := before(ctx, s); berr != nil {
			return nil, berr
		}
	}
	if err != nil {
		return nil, err
	}
	return evs, nil
}

func (f *fakeFetcher) FetchTokenRegistered(ctx context.Context, _ int) ([]bitquery.Event, error) {
	return f.fetch(ctx, StreamTokenRegistered)
}

func (f *fakeFetcher) FetchOrderFilled(ctx context.Context, _ int) ([]bitquery.Event, error) {
	return f.fetch(ctx, StreamOrderFilled)
}

func (f *fakeFetcher) FetchConditionPreparation(ctx context.Context, _ int) ([]bitquery.Event, error) {
	return f.fetch(ctx, StreamConditionPreparation)
}

func (f *fakeFetcher) FetchQuestionInitialized(ctx context.Context, _ int) ([]bitquery.Event, error) {
	return f.fetch(ctx, StreamQuestionInitialized)
}

// fakeStore keeps records in maps keyed by natural key.
type fakeStore struct {
	mu         sync.Mutex
	tokens     map[string]models.TokenRegistration
	orders     map[string]models.OrderFill
	conditions map[string]models.ConditionPreparation
	questions  map[string]models.QuestionInitialization

	populated     bool
	populatedErr  error
	failWritesAt  int
	writes        int
	checkpoints   int
	checkpointErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens:     map[string]models.TokenRegistration{},
		orders:     map[string]models.OrderFill{},
		conditions: map[string]models.ConditionPreparation{},
		questions:  map[string]models.QuestionInitialization{},
	}
}

var errDiskFull = errors.New("disk full")

func (s *fakeStore) write() error {
	s.writes++
	if s.failWritesAt > 0 && s.writes >= s.failWritesAt {
		return errDiskFull
	}
	return nil
}

func (s *fakeStore) InsertTokenRegistered(_ context.Context, rec *models.TokenRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.tokens[rec.ConditionID+"/"+rec.Token0] = *rec
	return nil
}

func (s *fakeStore) InsertOrderFilled(_ context.Context, rec *models.OrderFill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.orders[rec.OrderHash] = *rec
	return nil
}

func (s *fakeStore) InsertConditionPreparation(_ context.Context, rec *models.ConditionPreparation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.conditions[rec.ConditionID] = *rec
	return nil
}

func (s *fakeStore) InsertQuestionInitialized(_ context.Context, rec *models.QuestionInitialization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(); err != nil {
		return err
	}
	s.questions[rec.QuestionID] = *rec
	return nil
}

func (s *fakeStore) AreAllStreamsPopulated(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.populated, s.populatedErr
}

func (s *fakeStore) AreStreamsEmpty(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)+len(s.orders)+len(s.conditions)+len(s.questions) == 0, nil
}

func (s *fakeStore) Checkpoint(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	if s.checkpointErr != nil {
		return "error", s.checkpointErr
	}
	return "success", nil
}

func (s *fakeStore) checkpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints
}

// recordingSleeper records requested waits and returns immediately.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) PublishEvent(_ context.Context, event string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}
