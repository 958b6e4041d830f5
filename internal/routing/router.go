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

package routing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/blnkfinance/churnguard/model"
	"github.com/redis/go-redis/v9"
)

const (
	ownersKeyPrefix     = "routing:owners"
	oncallKeyPrefix     = "routing:oncall"
	assignmentKeyPrefix = "routing:assignment"
)

// RedisRouter picks the human owner for an escalation.
//
// Resolution order: a sticky per-lead assignment, then the tenant's on-call
// owner for critical urgency, then a stable hash of the lead over the
// tenant's owner pool, then the default owner.
type RedisRouter struct {
	client       redis.UniversalClient
	defaultOwner string
}

func NewRedisRouter(client redis.UniversalClient, defaultOwner string) *RedisRouter {
	return &RedisRouter{client: client, defaultOwner: defaultOwner}
}

func (r *RedisRouter) Route(ctx context.Context, req *model.EscalationRequest) (string, error) {
	owner, err := r.client.Get(ctx, assignmentKey(req.TenantID, req.LeadID)).Result()
	if err == nil && owner != "" {
		return owner, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	if req.Urgency == model.UrgencyCritical {
		owner, err = r.client.Get(ctx, oncallKey(req.TenantID)).Result()
		if err == nil && owner != "" {
			return owner, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", err
		}
	}

	owners, err := r.client.SMembers(ctx, ownersKey(req.TenantID)).Result()
	if err != nil {
		return "", err
	}
	if len(owners) == 0 {
		return r.defaultOwner, nil
	}
	sort.Strings(owners)
	return owners[hashLead(req.LeadID)%uint32(len(owners))], nil
}

// AddOwner puts owner in the tenant's pool.
func (r *RedisRouter) AddOwner(ctx context.Context, tenantID, owner string) error {
	return r.client.SAdd(ctx, ownersKey(tenantID), owner).Err()
}

func (r *RedisRouter) RemoveOwner(ctx context.Context, tenantID, owner string) error {
	return r.client.SRem(ctx, ownersKey(tenantID), owner).Err()
}

// SetOnCall sets who receives critical escalations for the tenant.
func (r *RedisRouter) SetOnCall(ctx context.Context, tenantID, owner string) error {
	return r.client.Set(ctx, oncallKey(tenantID), owner, 0).Err()
}

// Assign pins a lead to an owner, typically its account manager.
func (r *RedisRouter) Assign(ctx context.Context, tenantID, leadID, owner string) error {
	return r.client.Set(ctx, assignmentKey(tenantID, leadID), owner, 0).Err()
}

func hashLead(leadID string) uint32 {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(leadID))
	return hasher.Sum32()
}

func ownersKey(tenantID string) string {
	return fmt.Sprintf("%s:%s", ownersKeyPrefix, tenantID)
}

func oncallKey(tenantID string) string {
	return fmt.Sprintf("%s:%s", oncallKeyPrefix, tenantID)
}

func assignmentKey(tenantID, leadID string) string {
	return fmt.Sprintf("%s:%s:%s", assignmentKeyPrefix, tenantID, leadID)
}
