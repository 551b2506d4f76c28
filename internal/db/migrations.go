package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// gate_entries: one row per vehicle stay, closed once at exit
	`CREATE TABLE IF NOT EXISTS gate_entries (
		id               UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		plate_text       TEXT NOT NULL,
		plate_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		face_vector      JSONB NOT NULL,
		plate_image_ref  TEXT,
		face_image_ref   TEXT,
		entry_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
		exit_time        TIMESTAMPTZ,
		status           TEXT NOT NULL DEFAULT 'active'
	);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'gate_entries_status_check') THEN
			ALTER TABLE gate_entries ADD CONSTRAINT gate_entries_status_check
				CHECK (status IN ('active', 'exited'));
		END IF;
	END
	$$;`,
	`CREATE INDEX IF NOT EXISTS idx_gate_entries_entry_time ON gate_entries(entry_time);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_entries_status ON gate_entries(status);`,

	// lookup path for exit validation: newest active row per plate
	`CREATE INDEX IF NOT EXISTS idx_gate_entries_active_plate
		ON gate_entries(plate_text, entry_time DESC) WHERE status = 'active';`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
