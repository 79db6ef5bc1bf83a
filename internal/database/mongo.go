package database

import (
	"context"
	"time"

	"certwatch/internal/conf"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect establishes the MongoDB connection, retrying with exponential
// backoff so a briefly unavailable database does not kill startup.
func Connect(cfg conf.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	connect := func() (*mongo.Client, error) {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		defer dialCancel()

		client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(dialCtx, nil); err != nil {
			_ = client.Disconnect(dialCtx)
			return nil, err
		}
		return client, nil
	}

	client, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logrus.Warnf("mongodb connect failed, retrying in %s: %v", next, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	logrus.Info("connected to MongoDB")
	return client, nil
}
