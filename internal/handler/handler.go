// Package handler exposes the lending services over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/internal/domain"
	customError "github.com/segyhp/lending-engine/pkg/errors"
	"github.com/segyhp/lending-engine/pkg/response"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"

	maxBodyBytes = 1 << 20
)

// NewValidator returns a validator that understands decimal amounts and uuids.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
			return id.String()
		}
		return ""
	}, uuid.UUID{})
	return v
}

// actorFrom reads the caller identity set by the upstream gateway.
func actorFrom(r *http.Request) (domain.Actor, bool) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return domain.Actor{}, false
	}
	return domain.Actor{UserID: userID, Admin: r.Header.Get(HeaderUserRole) == RoleAdmin}, true
}

// withActor rejects requests without a caller identity.
func withActor(next func(w http.ResponseWriter, r *http.Request, actor domain.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			response.Unauthorized(w, "missing "+HeaderUserID+" header")
			return
		}
		next(w, r, actor)
	}
}

// withAdmin rejects callers without the admin role.
func withAdmin(next func(w http.ResponseWriter, r *http.Request, actor domain.Actor)) http.HandlerFunc {
	return withActor(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		if !actor.Admin {
			response.Forbidden(w, "administrator role required")
			return
		}
		next(w, r, actor)
	})
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	// an empty body leaves every optional field unset
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request body", err)
		return false
	}
	if err := v.Struct(dst); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return false
	}
	return true
}

// pathID parses the uuid path variable name.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		response.BadRequest(w, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, customError.WrapInvalidRequest("query parameter "+name+" must be an integer", err)
	}
	return n, nil
}
