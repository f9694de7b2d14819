package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"chatd/pkg/types"
)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// decodeChatRequest reads and validates a ChatRequest body. It writes the
// error response itself and reports false on failure. needInput makes
// user_input mandatory.
func decodeChatRequest(w http.ResponseWriter, r *http.Request, needInput bool) (types.ChatRequest, bool) {
	var req types.ChatRequest
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}

	var details []types.FieldError
	if needInput && strings.TrimSpace(req.UserInput) == "" {
		details = append(details, types.FieldError{Field: "user_input", Rule: "required"})
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return req, false
		}
		for _, fe := range verrs {
			details = append(details, types.FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
	}
	if len(details) > 0 {
		writeErrorResponse(w, types.ErrorResponse{Error: "validation failed", Code: http.StatusBadRequest, Details: details})
		return req, false
	}
	return req, true
}
