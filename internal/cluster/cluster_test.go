package cluster_test

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/cluster"
	"github.com/flockdb/flock/internal/command"
	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
	"github.com/flockdb/flock/internal/social"
	"github.com/flockdb/flock/internal/storage"
	"github.com/flockdb/flock/internal/testutil"
	"github.com/flockdb/flock/internal/wire"
)

type sentMessage struct {
	Port    int
	Payload string
}

// fakeMessenger satisfies cluster.Messenger in-process.
type fakeMessenger struct {
	mu    sync.Mutex
	sent  []sentMessage
	reply func(port int, payload string) (string, error)
	alive map[int]bool
}

func (f *fakeMessenger) SendToPort(port int, payload string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Port: port, Payload: payload})
	f.mu.Unlock()

	if f.reply != nil {
		return f.reply(port, payload)
	}
	return "success", nil
}

func (f *fakeMessenger) Ping(port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive == nil {
		return true
	}
	return f.alive[port]
}

func (f *fakeMessenger) sentTo(port int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var payloads []string
	for _, m := range f.sent {
		if m.Port == port {
			payloads = append(payloads, m.Payload)
		}
	}
	return payloads
}

func TestVoteValueOrdering(t *testing.T) {
	votes := []cluster.Vote{
		{Port: 2000, LastSequenceID: 5},
		{Port: 1000, LastSequenceID: 7},
		{Port: 3000, LastSequenceID: 7},
	}

	best := votes[0]
	for _, v := range votes[1:] {
		if v.Value() > best.Value() {
			best = v
		}
	}

	// Sequence outranks port; equal sequences tiebreak on port.
	require.Equal(t, cluster.Vote{Port: 3000, LastSequenceID: 7}, best)
}

func TestSequence(t *testing.T) {
	var seq cluster.Sequence

	require.Zero(t, seq.Last())
	require.Equal(t, 1, seq.Next())
	require.Equal(t, 2, seq.Next())

	seq.Observe(10)
	require.Equal(t, 10, seq.Last())

	// Older IDs never move the counter backward.
	seq.Observe(4)
	require.Equal(t, 10, seq.Last())
	require.Equal(t, 11, seq.Next())
}

func TestTagUntag(t *testing.T) {
	tagged := cluster.Tag(12, "SAVE/credential/bob:pw")
	require.Equal(t, "12/SAVE/credential/bob:pw", tagged)

	id, line, err := cluster.Untag(tagged)
	require.NoError(t, err)
	require.Equal(t, 12, id)
	require.Equal(t, "SAVE/credential/bob:pw", line)

	for _, bad := range []string{"SAVE/credential/bob:pw", "nope", "-3/SAVE/credential/bob:pw"} {
		_, _, err := cluster.Untag(bad)
		require.ErrorIs(t, err, cluster.ErrUnsequencedWrite)
	}
}

func TestElectionDeterminism(t *testing.T) {
	members := []config.Member{
		{UserPort: 2000, InternalPort: 12000},
		{UserPort: 1000, InternalPort: 11000},
		{UserPort: 3000, InternalPort: 13000},
	}
	self := members[0]
	msgr := &fakeMessenger{}

	var seq cluster.Sequence
	seq.Observe(5)

	society := cluster.NewSociety(self, members, &seq, msgr, metrics.New(), zap.NewNop())
	society.SetVoteWindow(10 * time.Millisecond)

	society.StartElection()

	// Both peers got an inquiry naming this candidate's internal port.
	require.Eventually(t, func() bool {
		return len(msgr.sentTo(11000)) == 1 && len(msgr.sentTo(13000)) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, "12000/ElectionInquiry", msgr.sentTo(11000)[0])

	// Candidacies: own (5,2000) plus votes (7,1000) and (7,3000).
	society.RegisterVote(cluster.Vote{Port: 1000, LastSequenceID: 7})
	society.RegisterVote(cluster.Vote{Port: 3000, LastSequenceID: 7})

	require.Eventually(t, func() bool {
		return society.PrimaryUserPort() == 3000
	}, time.Second, time.Millisecond)
	require.False(t, society.IsPrimary())
}

func TestElectionWithNoVotesKeepsPrimary(t *testing.T) {
	members := []config.Member{
		{UserPort: 2000, InternalPort: 12000},
		{UserPort: 1000, InternalPort: 11000},
	}
	society := cluster.NewSociety(members[0], members, &cluster.Sequence{},
		&fakeMessenger{}, metrics.New(), zap.NewNop())
	society.SetVoteWindow(5 * time.Millisecond)

	society.StartElection()
	time.Sleep(50 * time.Millisecond)

	// The chooser only arms once a vote arrives.
	require.Equal(t, 2000, society.PrimaryUserPort())
	require.True(t, society.IsPrimary())
}

func TestVoteSendsElectionResponse(t *testing.T) {
	members := []config.Member{
		{UserPort: 2000, InternalPort: 12000},
		{UserPort: 1000, InternalPort: 11000},
	}
	msgr := &fakeMessenger{}

	var seq cluster.Sequence
	seq.Observe(9)

	society := cluster.NewSociety(members[1], members, &seq, msgr, metrics.New(), zap.NewNop())
	society.Vote(12000)

	require.Equal(t, []string{"11000/ElectionResponse/9/1000"}, msgr.sentTo(12000))
}

func TestHeartbeatsMarkDeadPeers(t *testing.T) {
	members := []config.Member{
		{UserPort: 2000, InternalPort: 12000},
		{UserPort: 1000, InternalPort: 11000},
		{UserPort: 3000, InternalPort: 13000},
	}
	msgr := &fakeMessenger{alive: map[int]bool{11000: true, 13000: false}}

	society := cluster.NewSociety(members[0], members, &cluster.Sequence{},
		msgr, metrics.New(), zap.NewNop())
	require.Len(t, society.AlivePeers(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go society.Heartbeats(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		alive := society.AlivePeers()
		return len(alive) == 1 && alive[0].InternalPort == 11000
	}, time.Second, time.Millisecond)
}

func TestLedgerDrainsInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var applied []string
	apply := func(line string) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		applied = append(applied, line)
		mu.Unlock()
	}

	led := cluster.NewLedger(apply, &fakeMessenger{}, metrics.New(), zap.NewNop())

	// Sequence tags arriving out of numeric order still apply in arrival
	// order; the ledger is a FIFO queue, not a priority queue.
	led.Add("first")
	led.Add("third")
	led.Add("second")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "third", "second"}, applied)
	require.Zero(t, led.Size())
}

func TestLedgerRunsOneDrainWorker(t *testing.T) {
	var active, peak int32
	apply := func(string) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	led := cluster.NewLedger(apply, &fakeMessenger{}, metrics.New(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				led.Add("line")
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return led.Size() == 0 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestLedgerReservation(t *testing.T) {
	led := cluster.NewLedger(func(string) {}, &fakeMessenger{}, metrics.New(), zap.NewNop())

	require.True(t, led.TryReserve("one"))
	require.False(t, led.TryReserve("two"))
	require.Equal(t, 1, led.Size())

	led.Release()
	require.Zero(t, led.Size())
	require.True(t, led.TryReserve("two"))
}

func TestBroadcastReachesEveryPeerDespiteFailures(t *testing.T) {
	msgr := &fakeMessenger{
		reply: func(port int, _ string) (string, error) {
			if port == 11000 {
				return "", net.ErrClosed
			}
			return "success", nil
		},
	}
	led := cluster.NewLedger(func(string) {}, msgr, metrics.New(), zap.NewNop())

	peers := []config.Member{
		{UserPort: 1000, InternalPort: 11000},
		{UserPort: 3000, InternalPort: 13000},
	}
	led.Broadcast("1/SAVE/credential/bob:pw", peers)

	require.Equal(t, []string{"1/SAVE/credential/bob:pw"}, msgr.sentTo(11000))
	require.Equal(t, []string{"1/SAVE/credential/bob:pw"}, msgr.sentTo(13000))
}

// fakeMembership pins the primary decision for router tests.
type fakeMembership struct {
	mu          sync.Mutex
	primary     bool
	primaryPort int
	peers       []config.Member
	voted       []int
	votes       []cluster.Vote
}

func (f *fakeMembership) IsPrimary() bool            { return f.primary }
func (f *fakeMembership) PrimaryUserPort() int       { return f.primaryPort }
func (f *fakeMembership) AlivePeers() []config.Member { return f.peers }

func (f *fakeMembership) Vote(candidateInternalPort int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voted = append(f.voted, candidateInternalPort)
}

func (f *fakeMembership) RegisterVote(v cluster.Vote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, v)
}

type routerFixture struct {
	router  *cluster.Router
	society *fakeMembership
	msgr    *fakeMessenger
	seq     *cluster.Sequence
	svc     *social.Service
	tr      *wire.Transport
}

func newRouterFixture(t *testing.T, primary bool) *routerFixture {
	t.Helper()

	codec := testutil.Codec()
	eng := storage.NewEngine(t.TempDir(), codec, zap.NewNop())
	require.NoError(t, eng.Init())

	svc := social.NewService(eng, codec, zap.NewNop())
	exec := command.NewExecutor(svc, zap.NewNop())
	met := metrics.New()
	msgr := &fakeMessenger{}
	seq := &cluster.Sequence{}

	apply := func(line string) {
		cmd, err := command.Parse(line)
		if err != nil {
			return
		}
		exec.Execute(cmd)
	}
	led := cluster.NewLedger(apply, msgr, met, zap.NewNop())

	society := &fakeMembership{
		primary:     primary,
		primaryPort: 4242,
		peers:       []config.Member{{UserPort: 1000, InternalPort: 11000}},
	}
	tr := wire.NewTransport(256, time.Second, zap.NewNop())

	return &routerFixture{
		router:  cluster.NewRouter(society, led, seq, exec, tr, met, zap.NewNop()),
		society: society,
		msgr:    msgr,
		seq:     seq,
		svc:     svc,
		tr:      tr,
	}
}

func (f *routerFixture) userRequest(t *testing.T, line string) string {
	t.Helper()

	client, server := net.Pipe()
	defer client.Close()
	go f.router.HandleUser(server)

	require.NoError(t, f.tr.WritePacket(client, line))
	reply, err := f.tr.ReadMessage(client)
	require.NoError(t, err)
	return reply
}

func (f *routerFixture) internalRequest(t *testing.T, payload string) string {
	t.Helper()

	client, server := net.Pipe()
	defer client.Close()
	go f.router.HandleInternal(server)

	require.NoError(t, f.tr.WritePacket(client, payload))
	reply, err := f.tr.ReadPacket(client)
	require.NoError(t, err)
	return reply
}

func TestRouterBouncesWritesOnBackup(t *testing.T) {
	f := newRouterFixture(t, false)

	reply := f.userRequest(t, "SAVE/credential/bob:pw")
	require.Equal(t, "BOUNCE/4242", reply)

	// No mutation happened on the bouncing node.
	exists, err := f.svc.Exists("bob")
	require.NoError(t, err)
	require.False(t, exists)

	t.Run("reads are served locally", func(t *testing.T) {
		require.Equal(t, "false", f.userRequest(t, "GET/credential/bob"))
	})
}

func TestRouterPrimaryWritePath(t *testing.T) {
	f := newRouterFixture(t, true)

	require.Equal(t, "success", f.userRequest(t, "SAVE/credential/bob:pw"))

	exists, err := f.svc.Exists("bob")
	require.NoError(t, err)
	require.True(t, exists)

	// The peer received the sequenced command before the reply went out.
	require.Equal(t, []string{"1/SAVE/credential/bob:pw"}, f.msgr.sentTo(11000))
	require.Equal(t, 1, f.seq.Last())
}

func TestRouterTimestampsUserPosts(t *testing.T) {
	f := newRouterFixture(t, true)

	require.Equal(t, "success", f.userRequest(t, "SAVE/credential/bob:pw"))
	require.Equal(t, "success", f.userRequest(t, "SAVE/posts/bob:hello"))

	sent := f.msgr.sentTo(11000)
	require.Len(t, sent, 2)

	// The broadcast form carries the primary-assigned timestamp.
	cmd, err := command.Parse(sent[1][len("2/"):])
	require.NoError(t, err)
	require.Equal(t, command.OpSavePost, cmd.Op)
	require.Len(t, cmd.Timestamp, 10)
}

func TestRouterRejectsMalformedCommand(t *testing.T) {
	f := newRouterFixture(t, true)
	require.Equal(t, "error", f.userRequest(t, "FETCH/everything"))
}

func TestRouterRepliesListRecords(t *testing.T) {
	f := newRouterFixture(t, true)

	require.Equal(t, "success", f.userRequest(t, "SAVE/credential/bob:pw"))
	require.Equal(t, "success", f.userRequest(t, "SAVE/posts/bob:hi there:1461531233"))

	reply := f.userRequest(t, "GET/posts/profile/bob:-1")
	require.Contains(t, reply, "1461531233")
	require.Contains(t, reply, "hi there")
}

func TestRouterAppliesReplicatedWrites(t *testing.T) {
	f := newRouterFixture(t, false)

	require.Equal(t, "success", f.internalRequest(t, "7/SAVE/credential/bob:pw"))

	// ACK means enqueued; the drain worker applies shortly after.
	require.Eventually(t, func() bool {
		exists, err := f.svc.Exists("bob")
		return err == nil && exists
	}, time.Second, time.Millisecond)
	require.Equal(t, 7, f.seq.Last())
}

func TestRouterRefusesUnsequencedWrite(t *testing.T) {
	f := newRouterFixture(t, false)

	require.Equal(t, "error", f.internalRequest(t, "SAVE/credential/bob:pw"))

	time.Sleep(20 * time.Millisecond)
	exists, err := f.svc.Exists("bob")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRouterRoutesElectionTraffic(t *testing.T) {
	f := newRouterFixture(t, false)

	require.Equal(t, "success", f.internalRequest(t, "13001/ElectionInquiry"))
	require.Eventually(t, func() bool {
		f.society.mu.Lock()
		defer f.society.mu.Unlock()
		return len(f.society.voted) == 1 && f.society.voted[0] == 13001
	}, time.Second, time.Millisecond)

	require.Equal(t, "success", f.internalRequest(t, "13001/ElectionResponse/7/3000"))
	f.society.mu.Lock()
	require.Equal(t, []cluster.Vote{{Port: 3000, LastSequenceID: 7}}, f.society.votes)
	f.society.mu.Unlock()
}

func TestRouterPrimaryOnlyMessages(t *testing.T) {
	t.Run("backup bounces", func(t *testing.T) {
		f := newRouterFixture(t, false)
		require.Equal(t, "BOUNCE/4242", f.internalRequest(t, "PRIMARY/GET/credential/bob"))
	})

	t.Run("primary executes", func(t *testing.T) {
		f := newRouterFixture(t, true)
		require.Equal(t, "false", f.internalRequest(t, "PRIMARY/GET/credential/bob"))
	})
}
