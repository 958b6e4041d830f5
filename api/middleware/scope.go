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

package middleware

import "strings"

// Resource is a protected API area that a scoped key can be granted.
type Resource string

// Action is what a scope allows on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAll    Action = "*"

	ResourceAssessments   Resource = "assessments"
	ResourceInterventions Resource = "interventions"
	ResourceEscalations   Resource = "escalations"
	ResourceAnalytics     Resource = "analytics"
	ResourceLeads         Resource = "monitored-leads"
	ResourceProviders     Resource = "providers"
	ResourceOwners        Resource = "owners"
	ResourceAll           Resource = "*"
)

var methodToAction = map[string]Action{
	"GET":    ActionRead,
	"HEAD":   ActionRead,
	"POST":   ActionWrite,
	"PUT":    ActionWrite,
	"PATCH":  ActionWrite,
	"DELETE": ActionDelete,
}

func BuildScope(resource Resource, action Action) string {
	return string(resource) + ":" + string(action)
}

// ParseScope splits resource:action. Malformed scopes parse to empty values.
func ParseScope(scope string) (Resource, Action) {
	parts := strings.Split(scope, ":")
	if len(parts) != 2 {
		return "", ""
	}
	return Resource(parts[0]), Action(parts[1])
}

// HasPermission reports whether any scope grants the HTTP method on resource.
func HasPermission(scopes []string, resource Resource, method string) bool {
	action := methodToAction[method]
	if action == "" {
		return false
	}

	for _, scope := range scopes {
		scopeResource, scopeAction := ParseScope(scope)
		if scopeResource != ResourceAll && scopeResource != resource {
			continue
		}
		if scopeAction == ActionAll || scopeAction == action {
			return true
		}
	}
	return false
}
