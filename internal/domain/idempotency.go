package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IdempotencyStatus — состояние ключа Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed хранит ответ с кодом >= 400, он тоже переигрывается.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// DefaultIdempotencyTTL применяется, когда срок ключа не передан.
const DefaultIdempotencyTTL = 24 * time.Hour

// Valid сообщает, известен ли статус.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Settled сообщает, что ответ сохранён и может быть отдан повторно.
func (s IdempotencyStatus) Settled() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyOutcome — решение по запросу, чей ключ уже занят живой записью.
type IdempotencyOutcome int

const (
	// IdempotencyReplay: отдать сохранённый ответ.
	IdempotencyReplay IdempotencyOutcome = iota + 1
	// IdempotencyInFlight: первый запрос ещё выполняется.
	IdempotencyInFlight
	// IdempotencyPayloadMismatch: ключ использован с другим телом или маршрутом.
	IdempotencyPayloadMismatch
	// IdempotencyCorrupt: статус записи не распознан.
	IdempotencyCorrupt
)

// IdempotencyRecord — сохранённый результат запроса под клиентским ключом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord готовит запись processing. Пустой ttlAt заменяется на now+DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	case requestHash == "":
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Expired: ttl наступил к моменту now включительно.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Resolve решает судьбу повторного запроса с хешем requestHash.
func (r IdempotencyRecord) Resolve(requestHash string) IdempotencyOutcome {
	switch {
	case r.RequestHash != strings.TrimSpace(requestHash):
		return IdempotencyPayloadMismatch
	case r.Status == IdempotencyStatusProcessing:
		return IdempotencyInFlight
	case r.Status.Settled():
		return IdempotencyReplay
	default:
		return IdempotencyCorrupt
	}
}

// ConflictErr выбирает ошибку, которую хранилище возвращает для занятого ключа.
func (r IdempotencyRecord) ConflictErr(requestHash string) error {
	if r.Resolve(requestHash) == IdempotencyPayloadMismatch {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Settle фиксирует ответ. Тело копируется.
func (r IdempotencyRecord) Settle(status IdempotencyStatus, body []byte, httpStatus int, at time.Time) IdempotencyRecord {
	r.Status = status
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = at
	return r
}

// IdempotencyStatusFor выбирает статус по HTTP-коду ответа.
func IdempotencyStatusFor(httpStatus int) IdempotencyStatus {
	if httpStatus >= 400 {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}

// RequestFingerprint считает sha256 от метода, URI и тела и отдаёт hex.
func RequestFingerprint(method, uri string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + "\n" + uri + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
