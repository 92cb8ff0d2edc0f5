package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/Surajsingh419/chat-system/pkg/auth"
	"github.com/Surajsingh419/chat-system/pkg/db"
	"github.com/Surajsingh419/chat-system/pkg/model"
)

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// NewLoginHandler mints a token and upserts the user into the directory the
// gateway builds presence snapshots from.
func NewLoginHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if req.Username == "" {
			req.Username = req.UserID
		}

		if err := session.Query(`INSERT INTO users (id, username) VALUES (?, ?)`,
			req.UserID, req.Username).Exec(); err != nil {
			log.Printf("Failed to upsert user %s: %v", req.UserID, err)
			http.Error(w, "Failed to register user", http.StatusInternalServerError)
			return
		}

		token, err := auth.GenerateToken(req.UserID, req.Username)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{
			Token: token,
			User:  model.User{ID: req.UserID, Username: req.Username},
		})
	}
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
