package main

import (
	"log"
	"net/http"
	"os"

	"github.com/Surajsingh419/chat-system/pkg/config"
	"github.com/Surajsingh419/chat-system/pkg/db"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatal(err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}

	log.Printf("API Service Starting on %s...", cfg.Addr)

	// Public endpoints
	http.Handle("/login", CORSMiddleware(http.HandlerFunc(NewLoginHandler(session))))
	http.Handle("/upload", CORSMiddleware(NewUploadHandler(cfg.UploadDir)))
	http.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// Protected endpoints
	http.Handle("/history", CORSMiddleware(AuthMiddleware(NewHistoryHandler(session))))
	http.Handle("/conversations", CORSMiddleware(AuthMiddleware(ConversationsHandler(session))))
	http.Handle("/conversations/read", CORSMiddleware(AuthMiddleware(ReadHandler(session))))

	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		log.Fatal(err)
	}
}
