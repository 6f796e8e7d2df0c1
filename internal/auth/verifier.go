package auth

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexdev-tb/prescription-pdf/pkg/apperror"
)

// HeaderName carries the access code on protected requests.
const HeaderName = "X-Access-Code"

var (
	ErrMissingCode = errors.New("access code required")
	ErrInvalidCode = errors.New("invalid access code")
)

// Verifier checks presented codes against a bcrypt hash; the plain code is
// not retained.
type Verifier struct {
	hash []byte
}

// NewVerifier hashes code with the given bcrypt cost. A zero cost uses
// bcrypt.DefaultCost.
func NewVerifier(code string, cost int) (*Verifier, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMissingCode
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, err
	}
	return &Verifier{hash: hash}, nil
}

func (v *Verifier) Verify(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrMissingCode
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(code)); err != nil {
		return ErrInvalidCode
	}
	return nil
}

// DenyFunc writes the rejection for a request that failed verification.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware rejects requests without a valid code before they reach next.
func (v *Verifier) Middleware(deny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Verify(r.Header.Get(HeaderName)); err != nil {
				deny(w, r, apperror.Unauthorized(err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
