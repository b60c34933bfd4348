package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/communehq/commune/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	err = createWalletTable(db)
	if err != nil {
		return nil, err
	}
	err = createLedgerTable(db)
	if err != nil {
		return nil, err
	}
	err = createOutboxTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createWalletTable creates a PostgreSQL table for the Wallet struct
func createWalletTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS wallets (
			user_id BIGINT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			last_updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			version BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		log.Printf("Error creating wallets table: %v", err)
	}
	return err
}

// createLedgerTable creates a PostgreSQL table for the LedgerEntry struct
func createLedgerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS point_ledger (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			user_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			entry_type TEXT NOT NULL,
			ref_type TEXT NOT NULL,
			ref_id BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT point_ledger_idempotency UNIQUE (user_id, ref_type, ref_id, entry_type)
		);
		CREATE INDEX IF NOT EXISTS idx_point_ledger_user_created ON point_ledger (user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_point_ledger_user_type_created ON point_ledger (user_id, entry_type, created_at)
	`)
	if err != nil {
		log.Printf("Error creating point_ledger table: %v", err)
	}
	return err
}

// createOutboxTable creates a PostgreSQL table for the OutboxRecord struct
func createOutboxTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			exchange TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			dedup_key TEXT NOT NULL,
			domain_id BIGINT NOT NULL,
			user_id BIGINT,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			published_at TIMESTAMP,
			last_error TEXT,
			next_retry_at TIMESTAMP,
			retry_count INT NOT NULL DEFAULT 0,
			CONSTRAINT outbox_events_dedup_key UNIQUE (dedup_key)
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_events_status_created ON outbox_events (status, created_at)
	`)
	if err != nil {
		log.Printf("Error creating outbox_events table: %v", err)
	}
	return err
}
