package sandbox

import (
	"errors"
	"fmt"
	"sync"
)

// The engine hands every match a /24 out of 172.20.0.0/16, octets 1..254.
const (
	subnetFirstOctet = 1
	subnetLastOctet  = 254
)

// ErrSubnetExhausted is returned when all 254 octets are allocated.
var ErrSubnetExhausted = errors.New("subnet pool exhausted")

// subnetPool allocates third-octet values for per-match /24 subnets.
// Guarded by its own lock, independent of match locks.
type subnetPool struct {
	mu   sync.Mutex
	used map[int]bool
}

func newSubnetPool() *subnetPool {
	return &subnetPool{used: make(map[int]bool)}
}

// allocate returns the first free octet and its subnet in CIDR form.
func (p *subnetPool) allocate() (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for octet := subnetFirstOctet; octet <= subnetLastOctet; octet++ {
		if !p.used[octet] {
			p.used[octet] = true
			return octet, subnetCIDR(octet), nil
		}
	}
	return 0, "", ErrSubnetExhausted
}

// release frees an octet. Releasing an unallocated octet is a no-op.
func (p *subnetPool) release(octet int) {
	p.mu.Lock()
	delete(p.used, octet)
	p.mu.Unlock()
}

// reserve marks an octet as in use, for reconciling subnets observed in the
// runtime at boot.
func (p *subnetPool) reserve(octet int) {
	if octet < subnetFirstOctet || octet > subnetLastOctet {
		return
	}
	p.mu.Lock()
	p.used[octet] = true
	p.mu.Unlock()
}

func subnetCIDR(octet int) string {
	return fmt.Sprintf("172.20.%d.0/24", octet)
}

// gatewayAddr returns the gateway address for an allocated octet.
func gatewayAddr(octet int) string {
	return fmt.Sprintf("172.20.%d.1", octet)
}
