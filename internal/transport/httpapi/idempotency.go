package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок с клиентским ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, взятых из сохранённой записи.
	IdempotentReplayHeader = "Idempotent-Replayed"
)

// recordingWriter копирует тело ответа, чтобы сохранить его под ключом.
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent оборачивает изменяющий маршрут. Без заголовка запрос проходит как есть.
func (h *Handler) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.idem == nil {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.abortWithStatus(c, http.StatusBadRequest, "failed to read request body", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		reqHash := domain.RequestFingerprint(c.Request.Method, c.Request.URL.RequestURI(), body)
		record, err := h.idem.CreateProcessing(ctx, key, reqHash, h.now().Add(h.idemTTL))
		if err != nil {
			h.replay(c, err, reqHash, record)
			return
		}

		rw := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rw
		defer func() {
			// паника уходит в gin.Recovery мимо settle ниже
			if p := recover(); p != nil {
				h.settle(ctx, key, http.StatusInternalServerError, nil)
				panic(p)
			}
		}()
		c.Next()

		h.settle(ctx, key, rw.Status(), rw.body.Bytes())
	}
}

// settle фиксирует исход запроса под ключом.
func (h *Handler) settle(ctx context.Context, key string, status int, body []byte) {
	// ответ уже отдан клиенту, запись не должна зависеть от отмены запроса
	storeCtx := context.WithoutCancel(ctx)
	logger := h.logger.WithFields(log.Fields{"idempotency_key": key, "status": status})
	mark := h.idem.MarkDone
	if domain.IdempotencyStatusFor(status) == domain.IdempotencyStatusFailed {
		mark = h.idem.MarkFailed
	}
	if err := mark(storeCtx, key, body, status); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
}

// replay отвечает на запрос, чей ключ уже занят.
func (h *Handler) replay(c *gin.Context, createErr error, reqHash string, record domain.IdempotencyRecord) {
	if !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists) && !errors.Is(createErr, domain.ErrIdempotencyHashMismatch) {
		h.logger.WithError(createErr).Warn("failed to create idempotency record")
		h.abortWithStatus(c, http.StatusInternalServerError, "failed to initialize idempotency request", nil)
		return
	}

	switch record.Resolve(reqHash) {
	case domain.IdempotencyPayloadMismatch:
		h.abortWithStatus(c, http.StatusUnprocessableEntity, "idempotency key is already used with different request payload", nil)
	case domain.IdempotencyInFlight:
		h.abortWithStatus(c, http.StatusConflict, "request with the same idempotency key is already processing", nil)
	case domain.IdempotencyReplay:
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.Header(IdempotentReplayHeader, "true")
		if len(record.ResponseBody) == 0 {
			c.AbortWithStatus(status)
			return
		}
		c.Data(status, "application/json; charset=utf-8", record.ResponseBody)
		c.Abort()
	default:
		h.abortWithStatus(c, http.StatusInternalServerError, "unknown idempotency record status", nil)
	}
}
