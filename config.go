// Package dht implements the bulletin-board-style Kademlia distributed
// hash table node: routing-table maintenance, bootstrap, iterative
// lookups, and the internal/external value store tiers.
package dht

import (
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/rpcserver"
	"github.com/nomoreweirdmachines/bulletinboard-dht/store"
)

var log = logging.Logger("dht")

const (
	// DefaultK is the routing table's per-bucket capacity / the number of
	// peers a lookup converges on.
	DefaultK = kbucket.DefaultK
	// DefaultAlpha is the lookup/refresh fan-out factor.
	DefaultAlpha = 3
	// DefaultRequestTimeout bounds a single RPC round trip.
	DefaultRequestTimeout = rpcserver.DefaultTimeout
	// DefaultExternalTTL bounds how long a non-owned value survives
	// without a refreshing Store.
	DefaultExternalTTL = store.DefaultExternalTTL
	// DefaultRefreshPeriod is how often the random-refresh loop fires.
	DefaultRefreshPeriod = 60 * time.Second
	// MaxValueLen is the largest value Put/Store will accept.
	MaxValueLen = 2048
)

// Config holds the tunables of spec.md §6, all defaulted and overridable
// via Option.
type Config struct {
	K              int
	Alpha          int
	RequestTimeout time.Duration
	ExternalTTL    time.Duration
	RefreshPeriod  time.Duration
	MaxValueLen    int
	IPDiversity    int
}

func defaultConfig() Config {
	return Config{
		K:              DefaultK,
		Alpha:          DefaultAlpha,
		RequestTimeout: DefaultRequestTimeout,
		ExternalTTL:    DefaultExternalTTL,
		RefreshPeriod:  DefaultRefreshPeriod,
		MaxValueLen:    MaxValueLen,
		IPDiversity:    kbucket.DefaultIPDiversityLimit,
	}
}

// Option customizes a Node's Config at construction time.
type Option func(*Config)

// WithK overrides the routing table's per-bucket capacity.
func WithK(k int) Option { return func(c *Config) { c.K = k } }

// WithAlpha overrides the lookup/refresh fan-out factor.
func WithAlpha(a int) Option { return func(c *Config) { c.Alpha = a } }

// WithRequestTimeout overrides the per-RPC round-trip bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithExternalTTL overrides how long non-owned values survive unrefreshed.
func WithExternalTTL(d time.Duration) Option {
	return func(c *Config) { c.ExternalTTL = d }
}

// WithRefreshPeriod overrides the random-refresh loop's tick interval.
func WithRefreshPeriod(d time.Duration) Option {
	return func(c *Config) { c.RefreshPeriod = d }
}

// WithMaxValueLen overrides the largest acceptable value size.
func WithMaxValueLen(n int) Option { return func(c *Config) { c.MaxValueLen = n } }

// WithIPDiversity overrides the routing table's per-network bucket
// occupancy limit; <= 0 disables the guard.
func WithIPDiversity(n int) Option { return func(c *Config) { c.IPDiversity = n } }
