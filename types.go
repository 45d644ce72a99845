// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// noCopy is a sentinel used to prevent copying of synchronization primitives
// embedded in Allocator. Satisfies go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Policy selects which pools are eligible to service a request alongside
// priority. See Allocator.MallocPolicy.
type Policy int

const (
	// PolicyDefault matches any pool regardless of its configured policy.
	PolicyDefault Policy = iota
	// PolicyCriticalOnly restricts selection to pools reserved for critical allocations.
	PolicyCriticalOnly
	// PolicyFastAccess restricts selection to pools tuned for low-latency access.
	PolicyFastAccess
	// PolicyLowFragmentation restricts selection to pools tuned to minimize fragmentation.
	PolicyLowFragmentation
)

func (p Policy) String() string {
	switch p {
	case PolicyCriticalOnly:
		return "CriticalOnly"
	case PolicyFastAccess:
		return "FastAccess"
	case PolicyLowFragmentation:
		return "LowFragmentation"
	default:
		return "Default"
	}
}
