package service

import (
	"sync"
)

// deviceLocks 按设备ID的互斥锁集合
// infer 和固件状态机转换都要求按设备串行化（读-判-写不允许与同设备的
// 并发写交错），锁粒度为单个设备
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// newDeviceLocks 创建锁集合
func newDeviceLocks() *deviceLocks {
	return &deviceLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock 获取指定设备的锁
func (d *deviceLocks) Lock(deviceID string) {
	d.get(deviceID).Lock()
}

// Unlock 释放指定设备的锁
func (d *deviceLocks) Unlock(deviceID string) {
	d.get(deviceID).Unlock()
}

func (d *deviceLocks) get(deviceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[deviceID] = lock
	}
	return lock
}
