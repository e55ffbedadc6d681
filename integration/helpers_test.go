//go:build integration

package integration

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/redilock/redilock/adapter"
)

// redisNode wraps one testcontainers Redis instance plus the
// adapter.Redis built on top of it, mirroring cronlock/integration's
// RedisContainer helper but exposing the package's own Adapter rather
// than a raw client, since tests here exercise adapter/lock/batch
// directly instead of a built binary.
type redisNode struct {
	container testcontainers.Container
	addr      string
	client    *redis.Client
	adapter   *adapter.Redis
}

func startRedisNode(ctx context.Context) (*redisNode, error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("get redis host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("get redis port: %w", err)
	}

	addr := fmt.Sprintf("%s:%s", host, port.Port())
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &redisNode{
		container: container,
		addr:      addr,
		client:    client,
		adapter:   adapter.NewRedis(client, adapter.Config{KeyPrefix: "redilock-it:"}),
	}, nil
}

func (n *redisNode) Terminate(ctx context.Context) {
	_ = n.adapter.Disconnect()
	n.container.Terminate(ctx)
}

// startRedisNodes starts n independent Redis containers, returning the
// nodes and a single cleanup function that terminates all of them.
func startRedisNodes(ctx context.Context, n int) ([]*redisNode, func(), error) {
	nodes := make([]*redisNode, 0, n)
	cleanup := func() {
		for _, node := range nodes {
			node.Terminate(ctx)
		}
	}
	for i := 0; i < n; i++ {
		node, err := startRedisNode(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, cleanup, nil
}
