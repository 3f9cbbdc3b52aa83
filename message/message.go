// Package message defines the wire message shapes exchanged between DHT
// nodes (spec.md §4.D) and the correlation cookie that pairs a request with
// its response.
package message

import (
	"errors"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// Cookie correlates a request with its reply. It is shaped exactly like a
// node ID (same width, same randomness source) because the original
// implementation generates one by drawing a NodeId-sized random value and
// asserting its length, rather than defining a distinct cookie type.
type Cookie = kbucket.ID

// NewCookie draws a fresh random correlation cookie.
func NewCookie() Cookie {
	return kbucket.RandomID()
}

// ErrTimeout is returned by the RPC layer when no reply arrives for a
// request's cookie before the request timeout (spec.md §6) elapses.
var ErrTimeout = errors.New("message: request timed out")

// Message is satisfied by every wire message type. SenderID identifies the
// node that sent it, for routing-table maintenance on receipt (spec.md
// §4.H's update_buckets); RequestCookie/WithCookie let the RPC layer
// correlate replies to outstanding requests without each message type
// re-implementing the bookkeeping.
type Message interface {
	SenderID() kbucket.ID
	RequestCookie() Cookie
	WithCookie(c Cookie) Message
}

// Ping is a liveness probe (spec.md §4.D).
type Ping struct {
	Sender kbucket.ID
	Cookie Cookie
}

func (m Ping) SenderID() kbucket.ID       { return m.Sender }
func (m Ping) RequestCookie() Cookie      { return m.Cookie }
func (m Ping) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// Pong answers a Ping.
type Pong struct {
	Sender kbucket.ID
	Cookie Cookie
}

func (m Pong) SenderID() kbucket.ID       { return m.Sender }
func (m Pong) RequestCookie() Cookie      { return m.Cookie }
func (m Pong) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// FindNode asks the recipient for its K closest known peers to Target
// (spec.md §4.D, §4.F).
type FindNode struct {
	Sender kbucket.ID
	Target kbucket.ID
	Cookie Cookie
}

func (m FindNode) SenderID() kbucket.ID       { return m.Sender }
func (m FindNode) RequestCookie() Cookie      { return m.Cookie }
func (m FindNode) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// FoundNode answers a FindNode with the responder's closest-peers view.
type FoundNode struct {
	Sender kbucket.ID
	Peers  []kbucket.Peer
	Cookie Cookie
}

func (m FoundNode) SenderID() kbucket.ID       { return m.Sender }
func (m FoundNode) RequestCookie() Cookie      { return m.Cookie }
func (m FoundNode) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// FindValue asks the recipient whether it holds any value for Key. A hit
// answers with FoundValue; a miss answers with FoundNode instead, reusing
// that shape rather than inventing an empty-hit variant (spec.md §4.D,
// §4.H).
type FindValue struct {
	Sender kbucket.ID
	Key    kbucket.ID
	Cookie Cookie
}

func (m FindValue) SenderID() kbucket.ID       { return m.Sender }
func (m FindValue) RequestCookie() Cookie      { return m.Cookie }
func (m FindValue) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// FoundValue answers a FindValue hit with every value currently bound to
// the key (internal ∪ external, deduplicated) — spec.md §3's "Key → set of
// values" model.
type FoundValue struct {
	Sender kbucket.ID
	Values [][]byte
	Cookie Cookie
}

func (m FoundValue) SenderID() kbucket.ID       { return m.Sender }
func (m FoundValue) RequestCookie() Cookie      { return m.Cookie }
func (m FoundValue) WithCookie(c Cookie) Message { m.Cookie = c; return m }

// Store asks the recipient to hold Key/Value in its external (TTL-bound)
// tier (spec.md §4.D, §4.G). It has no reply: the caller fires-and-forgets
// one per closest peer found during publish.
type Store struct {
	Sender kbucket.ID
	Key    kbucket.ID
	Value  []byte
	Cookie Cookie
}

func (m Store) SenderID() kbucket.ID       { return m.Sender }
func (m Store) RequestCookie() Cookie      { return m.Cookie }
func (m Store) WithCookie(c Cookie) Message { m.Cookie = c; return m }
