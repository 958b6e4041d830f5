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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/churnguard/model"
)

func TestRiskQueueDropsNewestWhenFull(t *testing.T) {
	q := NewRiskQueue(2)
	first := &model.RiskAssessment{LeadID: "a"}
	second := &model.RiskAssessment{LeadID: "b"}
	third := &model.RiskAssessment{LeadID: "c"}

	assert.True(t, q.Offer(first))
	assert.True(t, q.Offer(second))
	assert.False(t, q.Offer(third))
	assert.Equal(t, 2, q.Len())
	assert.EqualValues(t, 1, q.Dropped())

	got, ok := q.Next(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "a", got.LeadID)
	got, _ = q.Next(context.Background())
	assert.Equal(t, "b", got.LeadID)
}

func TestRiskQueueNextHonoursContext(t *testing.T) {
	q := NewRiskQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, ok := q.Next(ctx)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRiskQueueDefaultCapacity(t *testing.T) {
	q := NewRiskQueue(0)
	assert.Equal(t, 10000, q.Cap())
}
