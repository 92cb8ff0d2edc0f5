package main

import (
	"context"
	"log"

	"github.com/Surajsingh419/chat-system/pkg/config"
	"github.com/Surajsingh419/chat-system/pkg/db"
)

func main() {
	cfg, err := config.LoadMessaging()
	if err != nil {
		log.Fatal(err)
	}

	// Note: In production, schema creation should be handled by migration
	// tools. For this MVP we create keyspace/tables if not exists (requires
	// a session without keyspace first).
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS chat WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB chat keyspace: %v", err)
	}
	defer session.Close()

	err = session.Query(`CREATE TABLE IF NOT EXISTS users (
		id text,
		username text,
		PRIMARY KEY (id)
	)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create users table: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS messages (
		conversation_key text,
		id bigint,
		sender_id text,
		receiver_id text,
		sender_username text,
		content text,
		message_type text,
		file_data text,
		created_at timestamp,
		PRIMARY KEY (conversation_key, id)
	) WITH CLUSTERING ORDER BY (id DESC)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create messages table: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create user_conversations table: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		other_user_id text,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create conversation_counters table: %v", err)
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.GroupID, session)
	defer consumer.Close()

	log.Println("Starting Kafka Consumer...")
	consumer.Consume(context.Background())
}
