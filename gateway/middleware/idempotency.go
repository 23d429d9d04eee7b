package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxRequestBody       = 1 << 20 // 1 MiB
)

// ErrIdempotencyMismatch is returned when a key is reused with a different request.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// IdempotencyRecord caches the response of a mutating call for one caller and key.
type IdempotencyRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Caller      string    `gorm:"size:42;uniqueIndex:idx_idem_caller_key"`
	Key         string    `gorm:"column:idem_key;size:128;uniqueIndex:idx_idem_caller_key"`
	RequestHash string    `gorm:"size:64;not null"`
	Status      int       `gorm:"not null"`
	Body        []byte
	CreatedAt   time.Time
}

// Idempotency replays stored responses for repeated Idempotency-Key headers.
// Requests without the header pass through untouched.
type Idempotency struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewIdempotency migrates the record table and returns the middleware.
func NewIdempotency(db *gorm.DB, logger *slog.Logger) (*Idempotency, error) {
	if db == nil {
		return nil, errors.New("idempotency: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&IdempotencyRecord{}); err != nil {
		return nil, fmt.Errorf("idempotency: migrate: %w", err)
	}
	return &Idempotency{db: db, logger: logger, nowFn: time.Now, locks: make(map[string]*keyLock)}, nil
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 128 {
			writeError(w, http.StatusBadRequest, "invalid_request", "idempotency key too long")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller := "anonymous"
		if addr, ok := CallerFromContext(r.Context()); ok {
			caller = common.BytesToAddress(addr[:]).Hex()
		}
		unlock := i.lock(caller + "|" + key)
		defer unlock()

		requestHash := hashRequest(r.Method, r.URL.Path, body)
		cached, err := i.lookup(caller, key, requestHash)
		switch {
		case errors.Is(err, ErrIdempotencyMismatch):
			writeError(w, http.StatusConflict, "idempotency_mismatch", err.Error())
			return
		case err != nil:
			i.logger.Error("idempotency lookup failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal", "idempotency store unavailable")
			return
		case cached != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)
		// Only completed calls are replayed. Rejections such as an unexpired
		// lock may succeed later under the same key.
		if recorder.status < http.StatusOK || recorder.status >= http.StatusMultipleChoices {
			return
		}
		record := &IdempotencyRecord{
			ID:          uuid.New(),
			Caller:      caller,
			Key:         key,
			RequestHash: requestHash,
			Status:      recorder.status,
			Body:        recorder.body.Bytes(),
			CreatedAt:   i.nowFn().UTC(),
		}
		if err := i.db.Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error; err != nil {
			i.logger.Error("idempotency save failed", slog.String("error", err.Error()))
		}
	})
}

func (i *Idempotency) lookup(caller, key, requestHash string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := i.db.Where("caller = ? AND idem_key = ?", caller, key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &record, nil
}

func (i *Idempotency) lock(id string) func() {
	i.mu.Lock()
	entry, ok := i.locks[id]
	if !ok {
		entry = &keyLock{}
		i.locks[id] = entry
	}
	entry.refs++
	i.mu.Unlock()
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		i.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(i.locks, id)
		}
		i.mu.Unlock()
	}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
