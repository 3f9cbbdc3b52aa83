package message

import (
	"testing"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/stretchr/testify/require"
)

func TestWithCookieReplacesOnly(t *testing.T) {
	sender := kbucket.RandomID()
	p := Ping{Sender: sender}
	c := NewCookie()

	out := p.WithCookie(c)
	require.Equal(t, c, out.RequestCookie())
	require.Equal(t, sender, out.SenderID())
}

func TestEachMessageRoundTripsCookie(t *testing.T) {
	c := NewCookie()
	msgs := []Message{
		Ping{Sender: kbucket.RandomID()}.WithCookie(c),
		Pong{Sender: kbucket.RandomID()}.WithCookie(c),
		FindNode{Sender: kbucket.RandomID(), Target: kbucket.RandomID()}.WithCookie(c),
		FoundNode{Sender: kbucket.RandomID()}.WithCookie(c),
		FindValue{Sender: kbucket.RandomID(), Key: kbucket.RandomID()}.WithCookie(c),
		FoundValue{Sender: kbucket.RandomID()}.WithCookie(c),
		Store{Sender: kbucket.RandomID(), Key: kbucket.RandomID(), Value: []byte("v")}.WithCookie(c),
	}
	for _, m := range msgs {
		require.Equal(t, c, m.RequestCookie())
	}
}

func TestFoundValueCarriesValueSet(t *testing.T) {
	hit := FoundValue{Values: [][]byte{[]byte("a"), []byte("b")}}
	require.Len(t, hit.Values, 2)
}

func TestFindValueMissReusesFoundNodeShape(t *testing.T) {
	miss := FoundNode{Peers: []kbucket.Peer{{ID: kbucket.RandomID()}}}
	require.Len(t, miss.Peers, 1)
}
