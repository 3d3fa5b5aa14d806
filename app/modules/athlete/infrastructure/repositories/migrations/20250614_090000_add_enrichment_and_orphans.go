package athletemigrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Adding enrichment columns and orphan_results table...")

		// Enrichment columns arrived after the first deploy; IF NOT EXISTS
		// keeps the migration safe to re-run on databases created from the
		// current model.
		for _, stmt := range []string{
			"ALTER TABLE athletes ADD COLUMN IF NOT EXISTS club TEXT NULL",
			"ALTER TABLE athletes ADD COLUMN IF NOT EXISTS region TEXT NULL",
			"ALTER TABLE athletes ADD COLUMN IF NOT EXISTS gender TEXT NULL",
			"ALTER TABLE athletes ADD COLUMN IF NOT EXISTS age INTEGER NULL",
			"ALTER TABLE athletes ADD COLUMN IF NOT EXISTS rank INTEGER NULL",
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		_, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS orphan_results (
				id BIGSERIAL PRIMARY KEY,
				result_id BIGINT NOT NULL,
				source_athlete_id BIGINT NOT NULL,
				candidate_external_ids BIGINT[] NOT NULL DEFAULT '{}',
				reason TEXT NOT NULL,
				run_id UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`)
		if err != nil {
			return fmt.Errorf("failed to create orphan_results table: %w", err)
		}

		if _, err := db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_orphan_results_run_id ON orphan_results (run_id);
		`); err != nil {
			return fmt.Errorf("failed to index orphan_results.run_id: %w", err)
		}

		fmt.Println("Enrichment columns and orphan_results created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping enrichment columns and orphan_results table...")

		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS orphan_results;`); err != nil {
			return err
		}
		for _, stmt := range []string{
			"ALTER TABLE athletes DROP COLUMN IF EXISTS club",
			"ALTER TABLE athletes DROP COLUMN IF EXISTS region",
			"ALTER TABLE athletes DROP COLUMN IF EXISTS gender",
			"ALTER TABLE athletes DROP COLUMN IF EXISTS age",
			"ALTER TABLE athletes DROP COLUMN IF EXISTS rank",
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		fmt.Println("Enrichment columns and orphan_results dropped successfully!")
		return nil
	})
}
