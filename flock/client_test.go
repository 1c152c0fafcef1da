package flock_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flockdb/flock/flock"
	"github.com/flockdb/flock/internal/cluster"
	"github.com/flockdb/flock/internal/command"
	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
	"github.com/flockdb/flock/internal/social"
	"github.com/flockdb/flock/internal/storage"
	"github.com/flockdb/flock/internal/testutil"
	"github.com/flockdb/flock/internal/wire"
)

const buffSize = 256

type pinnedMembership struct {
	primary     bool
	primaryPort int
}

func (p *pinnedMembership) IsPrimary() bool             { return p.primary }
func (p *pinnedMembership) PrimaryUserPort() int        { return p.primaryPort }
func (p *pinnedMembership) AlivePeers() []config.Member { return nil }
func (p *pinnedMembership) Vote(int)                    {}
func (p *pinnedMembership) RegisterVote(cluster.Vote)   {}

type node struct {
	port       int
	svc        *social.Service
	membership *pinnedMembership
}

// startNode serves the user protocol on an ephemeral port with a pinned
// primary decision and no peers.
func startNode(t *testing.T, primary bool, primaryPort int) *node {
	t.Helper()

	codec := testutil.Codec()
	eng := storage.NewEngine(t.TempDir(), codec, zap.NewNop())
	require.NoError(t, eng.Init())

	svc := social.NewService(eng, codec, zap.NewNop())
	exec := command.NewExecutor(svc, zap.NewNop())
	met := metrics.New()
	tr := wire.NewTransport(buffSize, time.Second, zap.NewNop())

	apply := func(line string) {
		if cmd, err := command.Parse(line); err == nil {
			exec.Execute(cmd)
		}
	}
	led := cluster.NewLedger(apply, tr, met, zap.NewNop())

	membership := &pinnedMembership{primary: primary, primaryPort: primaryPort}
	router := cluster.NewRouter(membership, led, &cluster.Sequence{}, exec, tr, met, zap.NewNop())

	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go router.HandleUser(conn)
		}
	}()

	return &node{
		port:       ln.Addr().(*net.TCPAddr).Port,
		svc:        svc,
		membership: membership,
	}
}

func TestClientEndToEnd(t *testing.T) {
	n := startNode(t, true, 0)
	client := flock.New(flock.WithPort(n.port), flock.WithBufferSize(buffSize))

	exists, err := client.Exists("bob")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, client.SaveCredential("bob", "hunter"))

	exists, err = client.Exists("bob")
	require.NoError(t, err)
	require.True(t, exists)

	ok, err := client.VerifyCredential("bob", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	t.Run("duplicate registration is refused", func(t *testing.T) {
		require.ErrorIs(t, client.SaveCredential("bob", "again"), flock.ErrRefused)
	})

	t.Run("posts round trip", func(t *testing.T) {
		require.NoError(t, client.SavePost("bob", "hello world"))

		posts, err := client.ProfilePosts("bob", -1)
		require.NoError(t, err)
		require.Contains(t, posts, "hello world")
	})

	t.Run("following a missing account is refused", func(t *testing.T) {
		require.ErrorIs(t, client.Follow("bob", "ghost"), flock.ErrRefused)
	})

	t.Run("delete cascades and replies success", func(t *testing.T) {
		require.NoError(t, client.DeleteCredential("bob", "hunter"))

		exists, err := client.Exists("bob")
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestClientSurfacesBounce(t *testing.T) {
	n := startNode(t, false, 4242)
	client := flock.New(flock.WithPort(n.port), flock.WithBufferSize(buffSize))

	err := client.SaveCredential("bob", "hunter")
	require.ErrorIs(t, err, flock.ErrBounced)

	var bounce *flock.BounceError
	require.ErrorAs(t, err, &bounce)
	require.Equal(t, 4242, bounce.Port)

	// Reads are never bounced.
	exists, err := client.Exists("bob")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestClientFollowsBounceToPrimary(t *testing.T) {
	primary := startNode(t, true, 0)
	backup := startNode(t, false, primary.port)

	client := flock.New(
		flock.WithPort(backup.port),
		flock.WithBufferSize(buffSize),
		flock.WithFollowBounces(),
		flock.WithTimeout(time.Second),
	)

	require.NoError(t, client.SaveCredential("bob", "hunter"))

	// The write landed on the primary, not the bouncing backup.
	exists, err := primary.svc.Exists("bob")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = backup.svc.Exists("bob")
	require.NoError(t, err)
	require.False(t, exists)
}
