// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/infrastructure/store"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// natsMessage wraps a NATS message to implement [domain.Message].
type natsMessage struct {
	msg *nats.Msg
}

func (m *natsMessage) Subject() string {
	return m.msg.Subject
}

func (m *natsMessage) Data() []byte {
	return m.msg.Data
}

func (m *natsMessage) Respond(data []byte) error {
	return m.msg.Respond(data)
}

func (m *natsMessage) HasReply() bool {
	return m.msg.Reply != ""
}

// setupNATS connects to the NATS server. The connection drains on shutdown;
// an unexpected close signals the done channel so the process exits instead
// of running deaf.
func setupNATS(ctx context.Context, env environment, gracefulCloseWG *sync.WaitGroup, done chan os.Signal) (*nats.Conn, error) {
	gracefulCloseWG.Add(1)

	natsConn, err := nats.Connect(
		env.NatsURL,
		nats.Name("attendance-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(25*time.Second),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.InfoContext(ctx, "NATS connection established", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				slog.ErrorContext(ctx, "async NATS error", "subject", sub.Subject, logging.ErrKey, err)
				return
			}
			slog.ErrorContext(ctx, "async NATS error", logging.ErrKey, err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			gracefulCloseWG.Done()
			if err := nc.LastError(); err != nil {
				slog.ErrorContext(ctx, "NATS connection closed", logging.ErrKey, err, logging.PriorityCritical())
				select {
				case done <- os.Interrupt:
				default:
				}
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	return natsConn, nil
}

// repositories bundles the NATS KV backed stores the service uses.
type repositories struct {
	Meeting *store.NatsMeetingRepository
	Session *store.NatsSessionRepository
}

// getKeyValueStores binds or creates the JetStream KV buckets backing the
// meeting and session repositories.
func getKeyValueStores(ctx context.Context, natsConn *nats.Conn) (*repositories, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, err
	}

	meetings, err := bindKeyValue(ctx, js, store.KVStoreNameMeetings)
	if err != nil {
		return nil, err
	}
	sessions, err := bindKeyValue(ctx, js, store.KVStoreNameSessions)
	if err != nil {
		return nil, err
	}

	return &repositories{
		Meeting: store.NewNatsMeetingRepository(meetings),
		Session: store.NewNatsSessionRepository(sessions),
	}, nil
}

// bindKeyValue opens a KV bucket, creating it if it does not exist yet.
func bindKeyValue(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
}

// createNatsSubscriptions sets up the queue subscriptions that feed the
// message handlers. All instances share one queue group so each message is
// handled once.
func createNatsSubscriptions(ctx context.Context, handlers map[string]domain.MessageHandler, natsConn *nats.Conn) error {
	for subject, handler := range handlers {
		_, err := natsConn.QueueSubscribe(subject, models.AttendanceAPIQueue, func(msg *nats.Msg) {
			handler.HandleMessage(ctx, &natsMessage{msg: msg})
		})
		if err != nil {
			slog.ErrorContext(ctx, "error creating NATS subscription", "subject", subject, logging.ErrKey, err)
			return err
		}
		slog.DebugContext(ctx, "subscribed to NATS subject", "subject", subject, "queue", models.AttendanceAPIQueue)
	}
	return nil
}
