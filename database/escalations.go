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

	"github.com/blnkfinance/churnguard/internal/apierror"
	"github.com/blnkfinance/churnguard/model"
	"github.com/pkg/errors"
)

func (d Datasource) SaveEscalation(ctx context.Context, escalation *model.EscalationResult) error {
	raw, err := json.Marshal(escalation)
	if err != nil {
		return errors.Wrap(err, "marshal escalation")
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO churnguard.escalations (
			escalation_id, tenant_id, lead_id, reason, escalated_to, urgency,
			resolution_status, escalated_at, acknowledged_at, resolved_at, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (escalation_id) DO UPDATE SET
			resolution_status = EXCLUDED.resolution_status,
			acknowledged_at = EXCLUDED.acknowledged_at,
			resolved_at = EXCLUDED.resolved_at,
			record = EXCLUDED.record
	`, escalation.EscalationID, escalation.TenantID, escalation.LeadID, escalation.Reason,
		escalation.EscalatedTo, escalation.Urgency, escalation.ResolutionStatus,
		escalation.EscalatedAt, escalation.AcknowledgedAt, escalation.ResolvedAt, raw)
	if err != nil {
		return errors.Wrapf(err, "save escalation %s", escalation.EscalationID)
	}
	return nil
}

func (d Datasource) GetEscalation(ctx context.Context, escalationID string) (*model.EscalationResult, error) {
	var raw []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT record FROM churnguard.escalations WHERE escalation_id = $1
	`, escalationID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("escalation", escalationID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get escalation %s", escalationID)
	}

	var escalation model.EscalationResult
	if err := json.Unmarshal(raw, &escalation); err != nil {
		return nil, errors.Wrap(err, "unmarshal escalation")
	}
	return &escalation, nil
}

func (d Datasource) ListEscalationsByLead(ctx context.Context, tenantID, leadID string, limit int) ([]*model.EscalationResult, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT record FROM churnguard.escalations
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY escalated_at DESC
		LIMIT $3
	`, tenantID, leadID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list escalations")
	}
	defer rows.Close()

	out := []*model.EscalationResult{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan escalation")
		}
		var escalation model.EscalationResult
		if err := json.Unmarshal(raw, &escalation); err != nil {
			return nil, errors.Wrap(err, "unmarshal escalation")
		}
		out = append(out, &escalation)
	}
	return out, errors.Wrap(rows.Err(), "iterate escalations")
}
