package main

import (
	"log"

	"github.com/gocql/gocql"
)

func main() {
	cluster := gocql.NewCluster("localhost")
	cluster.Keyspace = "chat"
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id text,
			username text,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
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
		) WITH CLUSTERING ORDER BY (id DESC)`,
		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			other_user_id text,
			last_updated timestamp,
			PRIMARY KEY (user_id, other_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_counters (
			user_id text,
			other_user_id text,
			unread_count counter,
			PRIMARY KEY (user_id, other_user_id)
		)`,
	}

	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatal(err)
		}
	}

	log.Println("Tables created successfully")
}
