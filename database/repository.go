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
	"time"

	"github.com/blnkfinance/churnguard/model"
)

// IDataSource groups the persistence concerns of the engine.
type IDataSource interface {
	assessments
	interventions
	escalations
	leads
}

type assessments interface {
	SaveAssessment(ctx context.Context, assessment *model.RiskAssessment) error
	GetLatestAssessment(ctx context.Context, tenantID, leadID string) (*model.RiskAssessment, error)
}

type interventions interface {
	SaveIntervention(ctx context.Context, record *model.InterventionRecord) error
	GetIntervention(ctx context.Context, trackingID string) (*model.InterventionRecord, error)
	ListInterventionsSince(ctx context.Context, since time.Time, limit int) ([]*model.InterventionRecord, error)
	ListInterventionsByLead(ctx context.Context, tenantID, leadID string, limit int) ([]*model.InterventionRecord, error)
	DeleteInterventionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type escalations interface {
	SaveEscalation(ctx context.Context, escalation *model.EscalationResult) error
	GetEscalation(ctx context.Context, escalationID string) (*model.EscalationResult, error)
	ListEscalationsByLead(ctx context.Context, tenantID, leadID string, limit int) ([]*model.EscalationResult, error)
}

type leads interface {
	AddMonitoredLead(ctx context.Context, lead model.LeadRef, segment string) error
	RemoveMonitoredLead(ctx context.Context, lead model.LeadRef) error
	ListMonitoredLeads(ctx context.Context, limit, offset int) ([]model.LeadRef, error)
}
