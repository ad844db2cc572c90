package routes

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/utils"
	log "github.com/sirupsen/logrus"
)

// Claims are the claims of the access tokens issued by the auth provider.
// The user ID is the subject.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.StandardClaims
}

type SessionHandler struct {
	config *models.Config
	utils  *utils.Utils
}

func NewSessionHandler(config *models.Config) *SessionHandler {
	return &SessionHandler{config: config, utils: utils.New(config)}
}

// SessionMiddleware only lets requests carrying a valid user access token through.
func (s *SessionHandler) SessionMiddleware(h http.HandlerFunc) http.HandlerFunc {
	jwtKey := []byte(s.config.JWTSecret)
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := utils.BearerToken(r)
		if tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return jwtKey, nil
		})
		if err != nil || !token.Valid {
			var validationErr *jwt.ValidationError
			if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorMalformed != 0 {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			log.Debugf("SessionHandler: rejected token from %s: %v", s.utils.GetClientIP(r), err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if claims.Subject == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), utils.IdentityKey, claims.Subject)
		h(w, r.WithContext(ctx))
	}
}

// InternalMiddleware only lets requests carrying INTERNALAPIKEY through.
func (s *SessionHandler) InternalMiddleware(h http.HandlerFunc) http.HandlerFunc {
	apiKey := []byte(s.config.InternalAPIKey)
	return func(w http.ResponseWriter, r *http.Request) {
		provided := []byte(utils.BearerToken(r))
		if len(apiKey) == 0 || subtle.ConstantTimeCompare(provided, apiKey) != 1 {
			log.Warnf("SessionHandler: invalid internal API key from %s", s.utils.GetClientIP(r))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		h(w, r)
	}
}
