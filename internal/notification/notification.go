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

package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/request"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

// WebhookSender forwards a named event to the outbound webhook pipeline.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// ErrSlackNotConfigured is returned when no Slack webhook url is set.
var ErrSlackNotConfigured = errors.New("slack webhook url is not configured")

const slackTimeout = 10 * time.Second

// RegisterWebhookSender installs the sender used for system.error events.
// The workers wire the queued webhook publisher in here at startup.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func newSlackMessage(title string, fields map[string]string, order []string) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}
	for _, name := range order {
		value, ok := fields[name]
		if !ok || value == "" {
			continue
		}
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", name, value)}},
		})
	}
	return msg
}

func postSlack(ctx context.Context, msg slackMessage) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return ErrSlackNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, slackTimeout)
	defer cancel()
	return request.PostJSON(ctx, nil, conf.Notification.Slack.WebhookUrl, nil, msg, nil)
}

// SlackNotification reports a system error to Slack.
func SlackNotification(err error) {
	msg := newSlackMessage("Error From ChurnGuard 🐞", map[string]string{
		"Error": err.Error(),
		"Time":  time.Now().Format(time.RFC822),
	}, []string{"Error", "Time"})

	if sendErr := postSlack(context.Background(), msg); sendErr != nil {
		logrus.Errorf("slack error notification failed: %v", sendErr)
	}
}

// NotifyError logs the error and fans it out to Slack and the webhook
// pipeline without blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		if sender := currentSender(); sender != nil {
			payload := map[string]string{"error": systemError.Error()}
			if err := sender("system.error", payload); err != nil {
				logrus.Errorf("failed to forward system error: %v", err)
			}
		}

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}
		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}

func escalationTitle(urgency string) string {
	switch urgency {
	case model.UrgencyCritical:
		return "🚨 Critical churn escalation"
	case model.UrgencyHigh:
		return "⚠️ Churn escalation"
	default:
		return "Churn escalation"
	}
}

// NotifyEscalation posts the hand-off package to the owner's Slack channel.
// The result tells the caller whether the notification went out.
func NotifyEscalation(ctx context.Context, escalation *model.EscalationResult) error {
	if escalation == nil {
		return errors.New("escalation is nil")
	}

	fields := map[string]string{
		"Lead":    fmt.Sprintf("%s (tenant %s)", escalation.LeadID, escalation.TenantID),
		"Owner":   escalation.EscalatedTo,
		"Reason":  escalation.Reason,
		"Urgency": escalation.Urgency,
	}
	if rc := escalation.RiskContext; rc != nil {
		fields["Risk"] = fmt.Sprintf("%.0f%% (%s)", rc.Probability*100, rc.Stage)
		factors := make([]string, 0, len(rc.TopFactors))
		for _, f := range rc.TopFactors {
			factors = append(factors, fmt.Sprintf("• %s (%.2f)", f.Name, f.Impact))
		}
		fields["Top factors"] = strings.Join(factors, "\n")
	}
	if len(escalation.RecommendedActions) > 0 {
		fields["Recommended"] = "• " + strings.Join(escalation.RecommendedActions, "\n• ")
	}
	fields["Escalation"] = escalation.EscalationID

	msg := newSlackMessage(escalationTitle(escalation.Urgency), fields,
		[]string{"Lead", "Owner", "Reason", "Urgency", "Risk", "Top factors", "Recommended", "Escalation"})
	return postSlack(ctx, msg)
}
