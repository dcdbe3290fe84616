package store

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one validator observation for a URL: when the resource was
// last checked and the validator string seen at that time.
type Record struct {
	CheckedAt time.Time
	Validator string
}

// String renders the lock-file wire form "<epochMillis>@<validator>".
func (r Record) String() string {
	return strconv.FormatInt(r.CheckedAt.UnixMilli(), 10) + "@" + r.Validator
}

// parseRecord parses the lock-file wire form. An empty or malformed
// payload (including the empty first-check marker) yields no record.
func parseRecord(data []byte) (Record, bool) {
	head, rest, ok := strings.Cut(strings.TrimSpace(string(data)), "@")
	if !ok {
		return Record{}, false
	}
	millis, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{CheckedAt: time.UnixMilli(millis), Validator: rest}, true
}

// Registry tracks the most recent validator observation per URL. The
// in-memory map is authoritative for the process lifetime; lock files are
// consulted once per key on first sight and rewritten after every check.
type Registry struct {
	store *Store
	log   *logrus.Logger

	mu      sync.Mutex
	records map[string]Record

	persists sync.WaitGroup
}

// NewRegistry returns a registry persisting through the given store.
func NewRegistry(store *Store, log *logrus.Logger) *Registry {
	return &Registry{
		store:   store,
		log:     log,
		records: make(map[string]Record),
	}
}

// Check reports whether the cached copy for url is stale given the
// validator observed on the current response. Stale means the validator
// changed, or more than maxAge elapsed since the last check (maxAge <= 0
// disables the time bound). The new observation is recorded in memory and
// persisted to the key's lock file asynchronously, best effort.
func (r *Registry) Check(url, key, validator string, maxAge time.Duration) bool {
	now := time.Now()

	r.mu.Lock()
	prior, ok := r.records[url]
	r.mu.Unlock()

	if !ok {
		prior, ok = r.loadRecord(key)
	}

	stale := false
	if ok {
		stale = prior.Validator != validator
		if !stale && maxAge > 0 && prior.CheckedAt.Add(maxAge).Before(now) {
			stale = true
		}
	}

	next := Record{CheckedAt: now, Validator: validator}
	r.mu.Lock()
	r.records[url] = next
	r.mu.Unlock()

	r.persist(key, next)
	return stale
}

// Lookup returns the in-memory record for url, if any.
func (r *Registry) Lookup(url string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[url]
	return rec, ok
}

// Peek returns the record for url, reading the persisted lock file on
// an in-memory miss. Unlike Check it never creates or mutates state.
func (r *Registry) Peek(url, key string) (Record, bool) {
	if rec, ok := r.Lookup(url); ok {
		return rec, true
	}
	data, err := os.ReadFile(r.store.LockPath(key))
	if err != nil {
		return Record{}, false
	}
	return parseRecord(data)
}

// Forget drops the in-memory record for url. The lock file is left in
// place; a later check reloads it.
func (r *Registry) Forget(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, url)
}

// Flush blocks until queued record writes have landed. Callers deleting
// lock files use it to keep a straggler write from resurrecting one.
func (r *Registry) Flush() {
	r.persists.Wait()
}

// loadRecord reads the persisted record for a key. On the first-ever
// check (no lock file) it leaves an empty marker file behind so the key
// counts as seen.
func (r *Registry) loadRecord(key string) (Record, bool) {
	path := r.store.LockPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if f, cerr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644); cerr == nil {
				f.Close()
			}
		}
		return Record{}, false
	}
	return parseRecord(data)
}

// persist writes the record to the key's lock file without blocking the
// caller. Failure is non-fatal.
func (r *Registry) persist(key string, rec Record) {
	r.persists.Add(1)
	go func() {
		defer r.persists.Done()
		if err := os.WriteFile(r.store.LockPath(key), []byte(rec.String()), 0644); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("failed to persist lock record")
		}
	}()
}
