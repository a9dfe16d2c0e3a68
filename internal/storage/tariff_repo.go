package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/richowen/battery-controller/internal/tariff"
)

// TariffRepo implements internal/tariff.Repo against price_points.
type TariffRepo struct {
	db *DB
}

func (db *DB) TariffRepo() *TariffRepo {
	return &TariffRepo{db: db}
}

func (r *TariffRepo) UpsertPoints(ctx context.Context, points []tariff.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO price_points (valid_from, valid_to, unit_price, classification)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (valid_from) DO UPDATE SET
				valid_to = EXCLUDED.valid_to,
				unit_price = EXCLUDED.unit_price,
				classification = EXCLUDED.classification
		`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, p.ValidFrom, p.ValidTo, p.UnitPrice, string(p.Classification)); err != nil {
				return fmt.Errorf("upsert price point %s: %w", p.ValidFrom, err)
			}
		}
		return nil
	})
}

func (r *TariffRepo) GetWindow(ctx context.Context, start, end time.Time) ([]tariff.PricePoint, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT valid_from, valid_to, unit_price, classification
		FROM price_points
		WHERE valid_from >= $1 AND valid_from <= $2
		ORDER BY valid_from ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("tariff repo: get window: %w", err)
	}
	defer rows.Close()

	var points []tariff.PricePoint
	for rows.Next() {
		var p tariff.PricePoint
		var classification string
		if err := rows.Scan(&p.ValidFrom, &p.ValidTo, &p.UnitPrice, &classification); err != nil {
			return nil, fmt.Errorf("tariff repo: scan: %w", err)
		}
		p.Classification = tariff.Classification(classification)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *TariffRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM price_points WHERE valid_from < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("tariff repo: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tariff repo: rows affected: %w", err)
	}
	return int(n), nil
}
