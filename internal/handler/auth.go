package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/studyledger/internal/model"
)

// OwnerUser is the basic-auth user name of the API.
const OwnerUser = "owner"

// requireOwner checks basic-auth credentials against the owner password
// hash stored in metadata. Without a stored hash the API is open.
func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := h.store.GetMetadata(r.Context(), model.MetaOwnerPasswordHash)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, password, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(OwnerUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			slog.Warn("rejected credentials", "remote", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Basic realm="studyledger", charset="UTF-8"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashPassword returns the bcrypt hash stored for the owner.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
