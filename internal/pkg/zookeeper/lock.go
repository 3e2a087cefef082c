// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

var ErrNotLocked = errors.New("zookeeper: lock is not held")

// DistributedLock 基于临时顺序节点实现的分布式锁。
// 多副本部署时，pacing 重算循环用它做 leader 选举：
// 拿到锁的实例负责重算，其余实例只读共享状态。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /distributed_locks/pacing-loop
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	// 确保根节点与锁路径存在
	for _, p := range []string{lockRoot, lockRoot + "/" + resourceID} {
		if exists, _, err := conn.Exists(p); err == nil && !exists {
			if _, createErr := conn.Create(p, []byte(""), 0, zk.WorldACL(zk.PermAll)); createErr != nil && createErr != zk.ErrNodeExists {
				return nil, fmt.Errorf("failed to create lock node %s: %w", p, createErr)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to check lock node %s: %w", p, err)
		}
	}

	return &DistributedLock{
		conn: conn,
		path: lockRoot + "/" + resourceID,
	}, nil
}

// TryLock 非阻塞地尝试获取锁。返回是否拿到。
// 没拿到时会清掉自己刚创建的节点，避免残留排队节点。
func (l *DistributedLock) TryLock() (bool, error) {
	if err := l.createNode(); err != nil {
		return false, err
	}

	lowest, _, err := l.position()
	if err != nil {
		l.releaseNode()
		return false, err
	}
	if lowest {
		return true, nil
	}
	l.releaseNode()
	return false, nil
}

// Lock 阻塞式获取锁：监听前一个节点，它消失后重查。
func (l *DistributedLock) Lock() error {
	if err := l.createNode(); err != nil {
		return err
	}

	for {
		lowest, prev, err := l.position()
		if err != nil {
			return err
		}
		if lowest {
			return nil
		}

		// 只监听前一个节点，避免惊群
		exists, _, ch, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			return fmt.Errorf("failed to watch previous lock node: %w", err)
		}
		if !exists {
			continue
		}
		<-ch
	}
}

// Unlock 释放锁。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return ErrNotLocked
	}
	return l.releaseNode()
}

func (l *DistributedLock) createNode() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nil
}

func (l *DistributedLock) releaseNode() error {
	err := l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// position 返回自己是否是最小节点，以及排在自己前面的节点名。
func (l *DistributedLock) position() (bool, string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return false, "", fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Strings(children)

	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
	for i, child := range children {
		if child == myNodeName {
			if i == 0 {
				return true, "", nil
			}
			return false, children[i-1], nil
		}
	}
	return false, "", fmt.Errorf("own lock node %s disappeared", myNodeName)
}
