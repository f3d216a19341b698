package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/campuslms/messaging/pkg/auth"
	"github.com/campuslms/messaging/pkg/db"
	"github.com/campuslms/messaging/pkg/model"
)

type SignupRequest struct {
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func SignupHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Name == "" || req.Password == "" {
			http.Error(w, "Missing fields", http.StatusBadRequest)
			return
		}
		if req.Role != model.RoleProfessor && req.Role != model.RoleStudent {
			http.Error(w, "Invalid role", http.StatusBadRequest)
			return
		}

		var existing string
		err := session.Query(`SELECT id FROM users_by_email WHERE email = ?`, req.Email).Scan(&existing)
		if err == nil {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		if err != gocql.ErrNotFound {
			log.Printf("Failed to look up user %s: %v", req.Email, err)
			http.Error(w, "Signup failed", http.StatusInternalServerError)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			http.Error(w, "Signup failed", http.StatusInternalServerError)
			return
		}

		user := model.User{ID: uuid.NewString(), Email: req.Email, Name: req.Name, Role: req.Role}
		err = session.Query(
			`INSERT INTO users_by_email (email, id, name, password_hash, role) VALUES (?, ?, ?, ?, ?)`,
			user.Email, user.ID, user.Name, string(hash), string(user.Role),
		).Exec()
		if err != nil {
			log.Printf("Failed to create user %s: %v", req.Email, err)
			http.Error(w, "Signup failed", http.StatusInternalServerError)
			return
		}

		token, err := auth.GenerateToken(user.ID, user.Role)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
	}
}

func LoginHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			http.Error(w, "Missing fields", http.StatusBadRequest)
			return
		}

		var user model.User
		var hash, role string
		err := session.Query(
			`SELECT id, name, password_hash, role FROM users_by_email WHERE email = ?`, req.Email,
		).Scan(&user.ID, &user.Name, &hash, &role)
		if err != nil {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		user.Email = req.Email
		user.Role = model.Role(role)

		token, err := auth.GenerateToken(user.ID, user.Role)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
	}
}

// AuthMiddleware validates the bearer token and stores the claims in the
// request context for downstream handlers.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	return claims, ok
}
