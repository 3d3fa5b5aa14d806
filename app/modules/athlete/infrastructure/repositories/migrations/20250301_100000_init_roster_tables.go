package athletemigrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating athletes and result_records tables...")

		_, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS athletes (
				id BIGSERIAL PRIMARY KEY,
				display_name TEXT NOT NULL,
				external_id BIGINT NULL,
				extra_external_ids BIGINT[] NOT NULL DEFAULT '{}',
				membership_no TEXT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(external_id)
			);
		`)
		if err != nil {
			return fmt.Errorf("failed to create athletes table: %w", err)
		}

		if _, err := db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_athletes_display_name ON athletes (display_name);
		`); err != nil {
			return fmt.Errorf("failed to index athletes.display_name: %w", err)
		}

		_, err = db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS result_records (
				id BIGSERIAL PRIMARY KEY,
				athlete_id BIGINT NOT NULL REFERENCES athletes (id),
				meet_id TEXT NOT NULL,
				meet_name TEXT NOT NULL,
				event_date TIMESTAMPTZ NOT NULL,
				age_category TEXT NULL,
				weight_class_label TEXT NOT NULL,
				bodyweight_kg DOUBLE PRECISION,
				snatch1 DOUBLE PRECISION, snatch2 DOUBLE PRECISION, snatch3 DOUBLE PRECISION,
				cj1 DOUBLE PRECISION, cj2 DOUBLE PRECISION, cj3 DOUBLE PRECISION,
				best_snatch DOUBLE PRECISION,
				best_cj DOUBLE PRECISION,
				total DOUBLE PRECISION,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(meet_id, athlete_id, weight_class_label)
			);
		`)
		if err != nil {
			return fmt.Errorf("failed to create result_records table: %w", err)
		}

		if _, err := db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_result_records_athlete_id ON result_records (athlete_id);
		`); err != nil {
			return fmt.Errorf("failed to index result_records.athlete_id: %w", err)
		}

		fmt.Println("Roster tables created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping roster tables...")

		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS result_records;`); err != nil {
			return fmt.Errorf("failed to drop result_records table: %w", err)
		}
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS athletes;`); err != nil {
			return fmt.Errorf("failed to drop athletes table: %w", err)
		}

		fmt.Println("Roster tables dropped successfully!")
		return nil
	})
}
