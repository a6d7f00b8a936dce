package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEncode_Envelope(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	body, err := Encode(OfferCreatedEvent{OfferID: 1, ListingID: 2, BuyerID: 3, AmountKES: 900000, Kind: "bid"}, at)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, TypeOfferCreated, env.Type)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"offer_id":1,"listing_id":2,"buyer_id":3,"amount_kes":900000,"kind":"bid"}`, string(env.Data))
}

func TestFormatAuditLine(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "claim approved",
			ev: ClaimResolvedEvent{ClaimID: 7, ListingID: 5, UserID: 9, Provider: "mpesa-manual",
				Reference: "QFT1", Outcome: "successful", ListingStatus: "active", ResolvedBy: 1},
			want: "[2026-05-02T10:00:00Z] Claim successful | claim_id=7 | listing_id=5 | user_id=9 | provider=mpesa-manual | ref=QFT1 | listing_status=active | admin_id=1\n",
		},
		{
			name: "offer",
			ev:   OfferCreatedEvent{OfferID: 1, ListingID: 5, BuyerID: 3, AmountKES: 820000, Kind: "offer"},
			want: "[2026-05-02T10:00:00Z] New offer | offer_id=1 | listing_id=5 | buyer_id=3 | amount=820000 KES\n",
		},
		{
			name: "sweep",
			ev:   ListingsExpiredEvent{Count: 4, SweptAt: at},
			want: "[2026-05-02T10:00:00Z] Expiry sweep | expired=4\n",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			body, err := Encode(tc.ev, at)
			require.NoError(t, err)
			line, err := FormatAuditLine(body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, line)
		})
	}
}

func TestFormatAuditLine_Rejects(t *testing.T) {
	t.Parallel()

	_, err := FormatAuditLine([]byte("not json"))
	assert.Error(t, err)
	_, err = FormatAuditLine([]byte(`{"type":"listing.deleted","data":{}}`))
	assert.Error(t, err)
}

func TestConsumer_HandleAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := &Consumer{LogPath: filepath.Join(dir, "logs", "marketplace.log")}
	body, err := Encode(ListingsExpiredEvent{Count: 2}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, c.handle(body))
	require.NoError(t, c.handle(body))

	raw, err := os.ReadFile(c.LogPath)
	require.NoError(t, err)
	assert.Equal(t, "[2026-01-01T00:00:00Z] Expiry sweep | expired=2\n[2026-01-01T00:00:00Z] Expiry sweep | expired=2\n", string(raw))
}

func TestPublisher_BacklogFull(t *testing.T) {
	t.Parallel()

	// Run is never started, so nothing drains the inbox
	p := NewPublisher("amqp://unused/", "q", 1, nil)
	require.NoError(t, p.Publish(context.Background(), ListingsExpiredEvent{Count: 1}))
	require.ErrorIs(t, p.Publish(context.Background(), ListingsExpiredEvent{Count: 2}), ErrBacklogFull)
}

func TestPublisher_SendWaitsForConfirm(t *testing.T) {
	t.Parallel()

	ack := func(context.Context) (bool, error) { return true, nil }
	nack := func(context.Context) (bool, error) { return false, nil }
	lost := func(context.Context) (bool, error) { return false, context.DeadlineExceeded }

	for name, tc := range map[string]struct {
		wait    func(context.Context) (bool, error)
		sendErr error
		warning string
	}{
		"acked":   {wait: ack},
		"nacked":  {wait: nack, warning: "rabbitmq nacked event"},
		"no ack":  {wait: lost, warning: "rabbitmq confirm not received"},
		"refused": {sendErr: errors.New("channel closed"), warning: "rabbitmq publish failed, event dropped"},
	} {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			p := NewPublisher("amqp://unused/", "q", 1, zap.New(core))
			var sent amqp.Publishing
			waited := false
			p.publish = func(_ context.Context, msg amqp.Publishing) (func(context.Context) (bool, error), error) {
				sent = msg
				if tc.sendErr != nil {
					return nil, tc.sendErr
				}
				return func(ctx context.Context) (bool, error) {
					waited = true
					return tc.wait(ctx)
				}, nil
			}

			at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			p.send(context.Background(), outbound{typ: TypeListingsExpired, at: at, body: []byte(`{}`)})

			assert.Equal(t, TypeListingsExpired, sent.Type)
			assert.Equal(t, amqp.Persistent, sent.DeliveryMode)
			assert.Equal(t, tc.sendErr == nil, waited)
			if tc.warning == "" {
				assert.Zero(t, logs.Len())
				return
			}
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tc.warning, logs.All()[0].Message)
		})
	}
}
