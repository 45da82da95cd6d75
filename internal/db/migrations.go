package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS owners (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL,
		phone           TEXT,
		address         TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		plate_number    TEXT PRIMARY KEY,
		owner_id        BIGINT NOT NULL REFERENCES owners(id),
		vehicle_type    TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS violations (
		id              UUID PRIMARY KEY,
		plate_number    TEXT NOT NULL,
		owner_id        BIGINT NOT NULL REFERENCES owners(id),
		violation_type  TEXT NOT NULL,
		fine_amount     BIGINT NOT NULL,
		evidence        JSONB,
		detected_at     TIMESTAMPTZ NOT NULL,
		cooldown_bucket BIGINT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'PENDING',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_violations_dedup
		ON violations(plate_number, violation_type, cooldown_bucket);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_plate_type_time
		ON violations(plate_number, violation_type, detected_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_detected_at ON violations(detected_at);`,
	`CREATE TABLE IF NOT EXISTS notification_attempts (
		id              BIGSERIAL PRIMARY KEY,
		violation_id    UUID NOT NULL REFERENCES violations(id),
		attempt_number  INT NOT NULL,
		outcome         TEXT NOT NULL,
		detail          TEXT,
		attempted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_notification_attempts_numbering
		ON notification_attempts(violation_id, attempt_number);`,
	`CREATE INDEX IF NOT EXISTS idx_notification_attempts_violation_id
		ON notification_attempts(violation_id);`,
	`CREATE TABLE IF NOT EXISTS quarantined_candidates (
		id              BIGSERIAL PRIMARY KEY,
		plate_number    TEXT NOT NULL,
		violation_type  TEXT NOT NULL,
		fine_amount     BIGINT NOT NULL,
		evidence        JSONB,
		detected_at     TIMESTAMPTZ NOT NULL,
		reason          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_quarantined_plate ON quarantined_candidates(plate_number);`,
	`DO $$
	DECLARE demo_owner_id BIGINT;
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM owners WHERE email = 'demo.owner@example.com') THEN
			INSERT INTO owners (name, email, phone, address)
			VALUES ('Demo Owner', 'demo.owner@example.com', '+910000000000', 'Demo Street 1')
			RETURNING id INTO demo_owner_id;
			INSERT INTO vehicles (plate_number, owner_id, vehicle_type)
			VALUES ('22BH6517A', demo_owner_id, 'motorcycle');
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
