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

	"github.com/blnkfinance/churnguard/model"
	"github.com/pkg/errors"
)

func (d Datasource) AddMonitoredLead(ctx context.Context, lead model.LeadRef, segment string) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO churnguard.monitored_leads (tenant_id, lead_id, segment, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (tenant_id, lead_id) DO UPDATE SET active = TRUE, segment = EXCLUDED.segment
	`, lead.TenantID, lead.LeadID, segment)
	return errors.Wrapf(err, "add monitored lead %s", lead.LeadID)
}

func (d Datasource) RemoveMonitoredLead(ctx context.Context, lead model.LeadRef) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE churnguard.monitored_leads SET active = FALSE
		WHERE tenant_id = $1 AND lead_id = $2
	`, lead.TenantID, lead.LeadID)
	return errors.Wrapf(err, "remove monitored lead %s", lead.LeadID)
}

// ListMonitoredLeads pages through active leads in a stable order.
func (d Datasource) ListMonitoredLeads(ctx context.Context, limit, offset int) ([]model.LeadRef, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT tenant_id, lead_id FROM churnguard.monitored_leads
		WHERE active = TRUE
		ORDER BY tenant_id, lead_id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list monitored leads")
	}
	defer rows.Close()

	out := []model.LeadRef{}
	for rows.Next() {
		var ref model.LeadRef
		if err := rows.Scan(&ref.TenantID, &ref.LeadID); err != nil {
			return nil, errors.Wrap(err, "scan monitored lead")
		}
		out = append(out, ref)
	}
	return out, errors.Wrap(rows.Err(), "iterate monitored leads")
}
