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

func (d Datasource) SaveAssessment(ctx context.Context, assessment *model.RiskAssessment) error {
	raw, err := json.Marshal(assessment)
	if err != nil {
		return errors.Wrap(err, "marshal assessment")
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO churnguard.risk_assessments (
			assessment_id, tenant_id, lead_id, probability, stage, degraded, assessed_at, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (assessment_id) DO NOTHING
	`, assessment.AssessmentID, assessment.TenantID, assessment.LeadID, assessment.Probability,
		string(assessment.Stage), assessment.Degraded, assessment.AssessedAt, raw)
	if err != nil {
		return errors.Wrapf(err, "save assessment %s", assessment.AssessmentID)
	}
	return nil
}

func (d Datasource) GetLatestAssessment(ctx context.Context, tenantID, leadID string) (*model.RiskAssessment, error) {
	var raw []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT record FROM churnguard.risk_assessments
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY assessed_at DESC
		LIMIT 1
	`, tenantID, leadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("assessment for lead", leadID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get latest assessment")
	}

	var assessment model.RiskAssessment
	if err := json.Unmarshal(raw, &assessment); err != nil {
		return nil, errors.Wrap(err, "unmarshal assessment")
	}
	return &assessment, nil
}
