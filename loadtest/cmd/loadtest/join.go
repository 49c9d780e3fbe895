package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hushroom/server/loadtest/client"
	"github.com/hushroom/server/loadtest/stats"
)

// newRunID keeps names unique across consecutive runs against the same
// server, since kicked or lingering names would otherwise collide.
func newRunID() int64 {
	return time.Now().Unix() % 1000000
}

// botName uses letters and digits only so the moderation denylist never
// matches a generated name or message.
func botName(run int64, i int) string {
	return fmt.Sprintf("bot%dn%d", run, i)
}

// join dials and waits for admission, recording the outcome. It returns
// nil when the client did not join.
func join(ctx context.Context, url, name string, collector *stats.Collector, opts ...client.Option) *client.Client {
	c, err := client.New(ctx, url, name, opts...)
	if err != nil {
		collector.AddError()
		return nil
	}
	if err := c.WaitJoined(ctx); err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			collector.AddRejected()
		} else {
			collector.AddError()
		}
		c.Close()
		return nil
	}
	m := c.GetMetrics()
	collector.AddJoin(m.ConnectLatency, m.JoinLatency)
	return c
}
