package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/pkg/httpmiddleware"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:          http.StatusBadRequest,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindInvalidState:        http.StatusConflict,
	apperr.KindInsufficientBalance: http.StatusPaymentRequired,
	apperr.KindDeclined:            http.StatusPaymentRequired,
	apperr.KindExternal:            http.StatusBadGateway,
	apperr.KindInternal:            http.StatusInternalServerError,
}

// statusOf returns the HTTP status for err.
func statusOf(err error) int {
	if s, ok := statusByKind[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes its public code and message. Unclassified
// errors are reported as internal without their text.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	pub := apperr.Public(err)
	lg := zctx.From(ctx)
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err), zap.String("code", pub.Code))
	} else {
		lg.Debug("Request rejected", zap.Error(err), zap.String("code", pub.Code))
	}
	httpmiddleware.WriteError(w, status, pub.Code, pub.Message)
}
