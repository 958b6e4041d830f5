/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/blnkfinance/churnguard/internal/apierror"
	"github.com/blnkfinance/churnguard/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func (d Datasource) SaveIntervention(ctx context.Context, record *model.InterventionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal intervention record")
	}

	revenue := decimal.NewFromFloat(record.RevenueProtected).Round(2)
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO churnguard.interventions (
			tracking_id, intervention_id, tenant_id, lead_id, stage, segment, status,
			final_outcome, success_score, revenue_protected, initiated_at, completed_at, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tracking_id) DO UPDATE SET
			status = EXCLUDED.status,
			final_outcome = EXCLUDED.final_outcome,
			success_score = EXCLUDED.success_score,
			revenue_protected = EXCLUDED.revenue_protected,
			completed_at = EXCLUDED.completed_at,
			record = EXCLUDED.record
	`, record.TrackingID, record.InterventionID, record.TenantID, record.LeadID, string(record.Stage),
		record.Segment, string(record.Status), string(record.FinalOutcome), record.SuccessScore,
		revenue, record.InitiatedAt, record.CompletedAt, raw)
	if err != nil {
		return errors.Wrapf(err, "save intervention %s", record.TrackingID)
	}
	return nil
}

func (d Datasource) GetIntervention(ctx context.Context, trackingID string) (*model.InterventionRecord, error) {
	var raw []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT record FROM churnguard.interventions WHERE tracking_id = $1
	`, trackingID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("intervention", trackingID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get intervention %s", trackingID)
	}
	return decodeIntervention(raw)
}

// ListInterventionsSince returns records initiated at or after since, oldest first.
func (d Datasource) ListInterventionsSince(ctx context.Context, since time.Time, limit int) ([]*model.InterventionRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT record FROM churnguard.interventions
		WHERE initiated_at >= $1
		ORDER BY initiated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list interventions")
	}
	return scanInterventions(rows)
}

// ListInterventionsByLead returns a lead's records, newest first.
func (d Datasource) ListInterventionsByLead(ctx context.Context, tenantID, leadID string, limit int) ([]*model.InterventionRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT record FROM churnguard.interventions
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY initiated_at DESC
		LIMIT $3
	`, tenantID, leadID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list lead interventions")
	}
	return scanInterventions(rows)
}

// DeleteInterventionsBefore purges completed records older than cutoff.
func (d Datasource) DeleteInterventionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.Conn.ExecContext(ctx, `
		DELETE FROM churnguard.interventions
		WHERE completed_at IS NOT NULL AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge interventions")
	}
	return res.RowsAffected()
}

func scanInterventions(rows *sql.Rows) ([]*model.InterventionRecord, error) {
	defer rows.Close()

	records := []*model.InterventionRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan intervention")
		}
		rec, err := decodeIntervention(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate interventions")
	}
	return records, nil
}

func decodeIntervention(raw []byte) (*model.InterventionRecord, error) {
	var rec model.InterventionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal intervention record")
	}
	return &rec, nil
}
