// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// PoolConfig carries the per-pool tunables consulted by the multi-pool
// façade's pool-selection policy engine.
type PoolConfig struct {
	// Priority orders pools within a policy class; higher values are tried
	// first. Pools of equal priority are tried in registration order.
	Priority int
	// MinBlockSize is stored with the pool; pool selection does not
	// consult it.
	MinBlockSize int
	// PreferredAlignment is stored with the pool; Memalign does not
	// consult it.
	PreferredAlignment int
	// Policy restricts which MallocPolicy calls may target this pool.
	Policy Policy
}

// pool is one registered backing region together with its control, config,
// and optional per-pool lock.
type pool struct {
	ctl    *control
	memory []byte
	cfg    PoolConfig
	lock   Lockable
}

func (p *pool) eligible(policy Policy, minPriority int) bool {
	if p.cfg.Policy != PolicyDefault && p.cfg.Policy != policy {
		return false
	}
	return p.cfg.Priority >= minPriority
}
