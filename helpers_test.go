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

package churnguard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/apierror"
	"github.com/blnkfinance/churnguard/model"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]*model.ChurnScore
	err    error
	calls  int
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{scores: make(map[string]*model.ChurnScore)}
}

func (s *fakeScorer) set(leadID string, probability float64, factors ...model.RiskFactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[leadID] = &model.ChurnScore{
		Probability:          probability,
		Confidence:           0.9,
		RiskFactors:          factors,
		EstimatedDaysToChurn: 14,
		Segment:              "enterprise",
	}
}

func (s *fakeScorer) Score(_ context.Context, leadID, _ string) (*model.ChurnScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	score, ok := s.scores[leadID]
	if !ok {
		return nil, model.ErrScoringUnavailable
	}
	copied := *score
	return &copied, nil
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSender struct {
	mu      sync.Mutex
	fail    map[model.Channel]bool
	panics  map[model.Channel]bool
	sent    []*model.InterventionAction
	latency int64
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: make(map[model.Channel]bool), panics: make(map[model.Channel]bool), latency: 120}
}

func (s *fakeSender) failAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelPhone, model.ChannelInApp, model.ChannelWorkflow, model.ChannelHumanAssignment} {
		s.fail[c] = true
	}
}

func (s *fakeSender) Send(_ context.Context, action *model.InterventionAction) (model.DeliveryReceipt, error) {
	s.mu.Lock()
	s.sent = append(s.sent, action)
	fail := s.fail[action.Channel]
	panics := s.panics[action.Channel]
	latency := s.latency
	s.mu.Unlock()

	if panics {
		panic("provider exploded")
	}
	if fail {
		return model.DeliveryReceipt{Status: model.DeliveryFailed, ProviderID: "prv_" + string(action.Channel)}, errors.New("provider unavailable")
	}
	return model.DeliveryReceipt{Status: model.DeliveryDelivered, ProviderID: "prv_" + string(action.Channel), LatencyMs: latency}, nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeRouter struct {
	owner string
	err   error
}

func (r fakeRouter) Route(context.Context, *model.EscalationRequest) (string, error) {
	return r.owner, r.err
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []*model.EscalationResult
	err  error
}

func (n *countingNotifier) Notify(_ context.Context, e *model.EscalationResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, e)
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func noSleep(context.Context, time.Duration) error { return nil }

type testHarness struct {
	guard     *ChurnGuard
	clock     *fakeClock
	scorer    *fakeScorer
	sender    *fakeSender
	publisher *recordingPublisher
	notifier  *countingNotifier
}

func testConfig() *config.Configuration {
	return config.DefaultConfiguration("localhost:6379")
}

func newHarness(t *testing.T, mutate ...func(*Dependencies)) *testHarness {
	t.Helper()
	h := &testHarness{
		clock:     newFakeClock(),
		scorer:    newFakeScorer(),
		sender:    newFakeSender(),
		publisher: &recordingPublisher{},
		notifier:  &countingNotifier{},
	}
	deps := Dependencies{
		Scorer:    h.scorer,
		Sender:    h.sender,
		Publisher: h.publisher,
		Router:    fakeRouter{owner: "owner-1"},
		Notifier:  h.notifier.Notify,
		Clock:     h.clock.Now,
		Sleep:     noSleep,
	}
	for _, m := range mutate {
		m(&deps)
	}
	guard, err := NewChurnGuard(testConfig(), deps)
	require.NoError(t, err)
	h.guard = guard
	return h
}

// memStore is an in-memory database.IDataSource.
type memStore struct {
	mu            sync.Mutex
	assessments   map[string]*model.RiskAssessment
	interventions map[string]*model.InterventionRecord
	escalations   map[string]*model.EscalationResult
	leads         map[string]model.LeadRef
	failWrites    bool
}

func newMemStore() *memStore {
	return &memStore{
		assessments:   make(map[string]*model.RiskAssessment),
		interventions: make(map[string]*model.InterventionRecord),
		escalations:   make(map[string]*model.EscalationResult),
		leads:         make(map[string]model.LeadRef),
	}
}

var errStoreDown = errors.New("store unavailable")

func (s *memStore) SaveAssessment(_ context.Context, a *model.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	copied := *a
	s.assessments[leadKey(a.TenantID, a.LeadID)] = &copied
	return nil
}

func (s *memStore) GetLatestAssessment(_ context.Context, tenantID, leadID string) (*model.RiskAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[leadKey(tenantID, leadID)]
	if !ok {
		return nil, apierror.NotFound("assessment", leadID)
	}
	copied := *a
	return &copied, nil
}

func (s *memStore) SaveIntervention(_ context.Context, r *model.InterventionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.interventions[r.TrackingID] = r.Clone()
	return nil
}

func (s *memStore) GetIntervention(_ context.Context, trackingID string) (*model.InterventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.interventions[trackingID]
	if !ok {
		return nil, apierror.NotFound("intervention", trackingID)
	}
	return r.Clone(), nil
}

func (s *memStore) ListInterventionsSince(_ context.Context, since time.Time, limit int) ([]*model.InterventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.InterventionRecord
	for _, r := range s.interventions {
		if !r.InitiatedAt.Before(since) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListInterventionsByLead(_ context.Context, tenantID, leadID string, limit int) ([]*model.InterventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.InterventionRecord
	for _, r := range s.interventions {
		if r.TenantID == tenantID && r.LeadID == leadID {
			out = append(out, r.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteInterventionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.interventions {
		if r.InitiatedAt.Before(cutoff) {
			delete(s.interventions, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) SaveEscalation(_ context.Context, e *model.EscalationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.escalations[e.EscalationID] = e.Clone()
	return nil
}

func (s *memStore) GetEscalation(_ context.Context, escalationID string) (*model.EscalationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[escalationID]
	if !ok {
		return nil, apierror.NotFound("escalation", escalationID)
	}
	return e.Clone(), nil
}

func (s *memStore) ListEscalationsByLead(_ context.Context, tenantID, leadID string, limit int) ([]*model.EscalationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.EscalationResult
	for _, e := range s.escalations {
		if e.TenantID == tenantID && e.LeadID == leadID {
			out = append(out, e.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AddMonitoredLead(_ context.Context, lead model.LeadRef, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.leads[leadKey(lead.TenantID, lead.LeadID)] = lead
	return nil
}

func (s *memStore) RemoveMonitoredLead(_ context.Context, lead model.LeadRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, leadKey(lead.TenantID, lead.LeadID))
	return nil
}

func (s *memStore) ListMonitoredLeads(_ context.Context, limit, offset int) ([]model.LeadRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LeadRef, 0, len(s.leads))
	for _, lead := range s.leads {
		out = append(out, lead)
	}
	sortLeads(out)
	if offset >= len(out) {
		return []model.LeadRef{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
