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

package delivery

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/churnguard/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) Registry {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRegistry(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	p := &Provider{Name: "mailer", Channel: model.ChannelEmail, URL: "https://mail.test/send", Active: true}
	require.NoError(t, reg.RegisterProvider(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, defaultTimeout, p.Timeout)

	got, err := reg.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "mailer", got.Name)

	list, err := reg.ListProviders(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	update := &Provider{Name: "sms gateway", Channel: model.ChannelSMS, URL: "https://sms.test/send", Active: true}
	require.NoError(t, reg.UpdateProvider(ctx, p.ID, update))

	list, err = reg.ListProviders(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = reg.ListProviders(ctx, model.ChannelSMS)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	require.NoError(t, reg.DeleteProvider(ctx, p.ID))
	_, err = reg.GetProvider(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistryValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	assert.Error(t, reg.RegisterProvider(ctx, &Provider{Channel: model.ChannelEmail}))
	assert.Error(t, reg.RegisterProvider(ctx, &Provider{Channel: "pigeon", URL: "https://x.test"}))
}

func TestListProvidersOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	low := &Provider{ID: "low", Channel: model.ChannelSMS, URL: "https://a.test", Priority: 1, Active: true}
	high := &Provider{ID: "high", Channel: model.ChannelSMS, URL: "https://b.test", Priority: 5, Active: true}
	require.NoError(t, reg.RegisterProvider(ctx, low))
	require.NoError(t, reg.RegisterProvider(ctx, high))

	list, err := reg.ListProviders(ctx, model.ChannelSMS)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "high", list[0].ID)
}
