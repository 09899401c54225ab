package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

const internalErrorMessage = "an unexpected internal server error occurred"

type errorResponse struct {
	Status      int          `json:"status"`
	Error       string       `json:"error"`
	Message     string       `json:"message"`
	Timestamp   time.Time    `json:"timestamp"`
	FieldErrors []FieldError `json:"fieldErrors,omitempty"`
}

// statusFor переводит класс ошибки ядра в HTTP-статус.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficient, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) abortWithStatus(c *gin.Context, status int, message string, fields []FieldError) {
	c.AbortWithStatusJSON(status, errorResponse{
		Status:      status,
		Error:       http.StatusText(status),
		Message:     message,
		Timestamp:   h.now(),
		FieldErrors: fields,
	})
}

func (h *Handler) abortWithError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"operation": op,
		"status":    status,
	})

	message := err.Error()
	if status == http.StatusInternalServerError {
		entry.Error("request failed")
		message = internalErrorMessage
	} else {
		entry.Debug("request rejected")
	}

	h.abortWithStatus(c, status, message, nil)
}

func (h *Handler) abortValidation(c *gin.Context, fields []FieldError) {
	h.abortWithStatus(c, http.StatusBadRequest, "validation failed", fields)
}
