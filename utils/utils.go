package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/m-barthelemy/notifyd/models"
	log "github.com/sirupsen/logrus"
)

type contextKey string

// IdentityKey holds the authenticated user ID in the request context.
const IdentityKey contextKey = "identity"

var validate = validator.New()

type Utils struct {
	config *models.Config
}

func New(config *models.Config) *Utils {
	return &Utils{config: config}
}

func (u *Utils) GetClientIP(r *http.Request) string {
	if u.config.OriginalIPHeader != "" {
		if proxyHeader := r.Header.Get(u.config.OriginalIPHeader); len(proxyHeader) > 0 {
			forwardedIps := strings.Split(proxyHeader, ",")
			// Last value, if multiple found, is supposed to be the "trusted" one because added by a reverse proxy we control.
			return strings.TrimSpace(forwardedIps[len(forwardedIps)-1])
		}
		log.Printf("Utils: Configured to get client IP from `%s` but header is absent or empty", u.config.OriginalIPHeader)
		return ""
	}
	sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	return sourceIP
}

// Identity returns the user ID set by the authentication middleware.
func Identity(r *http.Request) (string, bool) {
	identity, ok := r.Context().Value(IdentityKey).(string)
	return identity, ok && identity != ""
}

// BearerToken extracts the token of an `Authorization: Bearer` header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// ValidationError is a request body that decoded fine but breaks a field rule.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed on '%s' validation", e.Field, e.Rule)
}

// DecodeJSON reads a size capped JSON body into v and validates it.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBodySize int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize) // Refuse request with big body
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return &ValidationError{Field: validationErrors[0].Namespace(), Rule: validationErrors[0].Tag()}
		}
		return err
	}
	return nil
}

// ErrorResponse outputs a JSON error message with status code c.
func ErrorResponse(w http.ResponseWriter, message string, c int) {
	JSONResponse(w, map[string]string{"error": message}, c)
}

// JSONResponse outputs d as a JSON encoded response with status code c
func JSONResponse(w http.ResponseWriter, d interface{}, c int) {
	dj, err := json.Marshal(d)
	if err != nil {
		log.Printf("Utils: Error serializing response to JSON: %s", err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c)
	fmt.Fprintf(w, "%s", dj)
}
