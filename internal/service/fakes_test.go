package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/repository/contract"
	"wordware-roast-be/internal/repository/specification"
	"wordware-roast-be/internal/repository/unitofwork"
	"wordware-roast-be/pkg/events"
)

// fakeStore is an in-memory user table keyed by lowercase username.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*entity.User

	failAnalysisWrites bool
	writes             []map[string]interface{}
}

func newFakeStore(users ...*entity.User) *fakeStore {
	s := &fakeStore{users: make(map[string]*entity.User)}
	for _, u := range users {
		s.users[strings.ToLower(u.Username)] = u
	}
	return s
}

func (s *fakeStore) get(username string) entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[strings.ToLower(username)]
	out := *u
	out.Analysis = copyAnalysis(u.Analysis)
	return out
}

type fakeFactory struct{ store *fakeStore }

func (f *fakeFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &fakeUnitOfWork{store: f.store}
}

type fakeUnitOfWork struct{ store *fakeStore }

func (u *fakeUnitOfWork) Begin(ctx context.Context) error { return nil }
func (u *fakeUnitOfWork) Commit() error                   { return nil }
func (u *fakeUnitOfWork) Rollback() error                 { return nil }
func (u *fakeUnitOfWork) UserRepository() contract.UserRepository {
	return &fakeUserRepository{store: u.store}
}

type fakeUserRepository struct{ store *fakeStore }

func (r *fakeUserRepository) Create(ctx context.Context, user *entity.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.users[strings.ToLower(user.Username)] = user
	return nil
}

func (r *fakeUserRepository) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, spec := range specs {
		if by, ok := spec.(specification.ByUsername); ok {
			u, found := r.store.users[strings.ToLower(by.Username)]
			if !found {
				return nil, nil
			}
			out := *u
			out.Analysis = copyAnalysis(u.Analysis)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepository) UpdateFields(ctx context.Context, username string, fields map[string]interface{}) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := fields["analysis"]; ok && r.store.failAnalysisWrites {
		return errors.New("connection reset by peer")
	}
	u, ok := r.store.users[strings.ToLower(username)]
	if !ok {
		return contract.ErrUserNotFound
	}
	r.store.writes = append(r.store.writes, fields)

	for col, v := range fields {
		switch col {
		case "wordware_started":
			u.WordwareStarted = v.(bool)
		case "wordware_completed":
			u.WordwareCompleted = v.(bool)
		case "wordware_started_time":
			t := v.(time.Time)
			u.WordwareStartedTime = &t
		case "paid_wordware_started":
			u.PaidWordwareStarted = v.(bool)
		case "paid_wordware_completed":
			u.PaidWordwareCompleted = v.(bool)
		case "paid_wordware_started_time":
			t := v.(time.Time)
			u.PaidWordwareStartedTime = &t
		case "analysis":
			u.Analysis = copyAnalysis(v.(map[string]interface{}))
		}
	}
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType())
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type bufferSink struct {
	mu sync.Mutex
	bytes.Buffer
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Buffer.Write(p)
}

func (s *bufferSink) Flush() error { return nil }

type goneSink struct{}

func (goneSink) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }
func (goneSink) Flush() error                { return nil }

// fakeUpstream serves a fixed newline-delimited body, flushing after each line.
type fakeUpstream struct {
	*httptest.Server
	hits  atomic.Int32
	paths chan string
}

func newFakeUpstream(status int, lines ...string) *fakeUpstream {
	u := &fakeUpstream{paths: make(chan string, 8)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.paths <- r.URL.Path
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	return u
}

// newHangingUpstream answers with headers and then never sends a byte.
// newStallingUpstream sends lines and then holds the response open until
// the client goes away.
func newStallingUpstream(lines ...string) *fakeUpstream {
	u := &fakeUpstream{paths: make(chan string, 8)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.paths <- r.URL.Path
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	return u
}

func newHangingUpstream() *fakeUpstream {
	return newStallingUpstream()
}
