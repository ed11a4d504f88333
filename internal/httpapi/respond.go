package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/payment"
)

const maxBodyBytes = 1 << 20

// errorBody is the error shape of every non-2xx response.
type errorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]string) {
	writeJSON(w, status, errorBody{Code: status, Message: msg, Details: details})
}

// decode reads a JSON body into v and runs its validate tags. An empty body
// is accepted when allowEmpty is set, leaving v at its zero value.
func (s *Server) decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return &badRequestError{msg: "invalid JSON body: " + err.Error()}
		}
	}
	return s.validate.Struct(v)
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// respondError maps domain errors to statuses. Unknown errors are logged and
// reported as 500 without their text.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq     *badRequestError
		fieldErrs  validator.ValidationErrors
		invalid    *stock.ValidationError
		issues     *stock.IssuesError
		short      *stock.InsufficientStockError
		transition *order.TransitionError
		quantity   *order.InvalidQuantityError
		gateway    *payment.APIError
	)
	switch {
	case errors.Is(err, order.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found", nil)
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found", nil)
	case errors.As(err, &badReq):
		writeError(w, http.StatusBadRequest, badReq.msg, nil)
	case errors.As(err, &fieldErrs):
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fieldPath(fe)] = fieldMessage(fe)
		}
		writeError(w, http.StatusBadRequest, "validation failed", details)
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error(), map[string]string{invalid.Field: invalid.Message})
	case errors.As(err, &issues):
		details := make(map[string]string, len(issues.Issues))
		for _, is := range issues.Issues {
			details[is.ProductID] = is.Message
		}
		writeError(w, http.StatusBadRequest, "stock validation failed", details)
	case errors.As(err, &short):
		writeError(w, http.StatusBadRequest, short.Error(), map[string]string{short.ProductID: "insufficient stock"})
	case errors.As(err, &transition):
		writeError(w, http.StatusBadRequest, transition.Error(), nil)
	case errors.As(err, &quantity):
		writeError(w, http.StatusBadRequest, quantity.Error(), nil)
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrNotModifiable),
		errors.Is(err, order.ErrStatusChanged):
		writeError(w, http.StatusBadRequest, rootMessage(err), nil)
	case errors.As(err, &gateway):
		zctx.From(r.Context()).Warn("Payment gateway error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment gateway error", nil)
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// rootMessage strips the wrapping context added on the way up.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// fieldPath drops the struct name from a namespace such as
// "createOrderRequest.items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
		return rest
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be a valid email"
	default:
		return "failed " + fe.Tag()
	}
}
