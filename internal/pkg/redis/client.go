// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 客户端，并维护一组按名字注册的 Lua 脚本。
// 脚本在注册时加载进 redis（EVALSHA 缓存），运行时按名字调用。
type Client struct {
	client *goredis.Client

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 创建客户端并探活。
func NewClient(addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Client{
		client:  rdb,
		scripts: make(map[string]*goredis.Script),
	}, nil
}

// LoadScriptFromContent 按名字注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.scripts[name]; exists {
		return fmt.Errorf("script %q already registered", name)
	}
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 运行一段已注册的脚本。Script.Run 内部优先走 EVALSHA，
// NOSCRIPT 时自动退回 EVAL，不需要调用方关心。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// GetClient 暴露底层客户端，供需要 pipeline 等高级用法的适配器使用。
func (c *Client) GetClient() *goredis.Client {
	return c.client
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.client.Close()
}
