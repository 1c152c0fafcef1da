package cluster

import (
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/command"
	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/metrics"
	"github.com/flockdb/flock/internal/wire"
)

// Membership is the routing layer's view of the election component, kept
// narrow so the ranking scheme can be swapped without touching the router.
type Membership interface {
	IsPrimary() bool
	PrimaryUserPort() int
	AlivePeers() []config.Member
	Vote(candidateInternalPort int)
	RegisterVote(v Vote)
}

// Router dispatches inbound connections: user-port connections carry command
// lines and multi-packet replies, internal-port connections carry single
// packet peer messages (replicated writes, election traffic, primary-only
// commands).
type Router struct {
	society Membership
	ledger  *Ledger
	seq     *Sequence
	exec    *command.Executor
	tr      *wire.Transport
	met     *metrics.Metrics
	log     *zap.Logger

	now func() time.Time
}

func NewRouter(society Membership, ledger *Ledger, seq *Sequence,
	exec *command.Executor, tr *wire.Transport, met *metrics.Metrics, log *zap.Logger) *Router {

	return &Router{
		society: society,
		ledger:  ledger,
		seq:     seq,
		exec:    exec,
		tr:      tr,
		met:     met,
		log:     log,
		now:     time.Now,
	}
}

// HandleUser serves one user connection: one command line in, one reply out.
func (r *Router) HandleUser(conn net.Conn) {
	defer conn.Close()

	line, err := r.tr.ReadPacket(conn)
	if err != nil {
		r.log.Debug("user read failed", zap.Error(err))
		return
	}

	cmd, err := command.Parse(line)
	if err != nil {
		r.log.Warn("rejected command", zap.String("line", line), zap.Error(err))
		r.reply(conn, wire.Outcome(false))
		return
	}
	r.met.Requests.WithLabelValues(verbOf(line)).Inc()

	if cmd.IsWrite() {
		r.handleWrite(conn, cmd)
		return
	}
	r.reply(conn, r.exec.Execute(cmd))
}

// handleWrite runs the primary-side write path: bounce unless this node is
// the primary and not already busy with a write, then timestamp, sequence,
// broadcast and finally apply locally for the reply.
func (r *Router) handleWrite(conn net.Conn, cmd command.Command) {
	if !r.society.IsPrimary() {
		r.bounce(conn)
		return
	}

	if cmd.Op == command.OpSavePost && cmd.Timestamp == "" {
		cmd.Timestamp = strconv.FormatInt(r.now().Unix(), 10)
	}
	line := cmd.String()

	if !r.ledger.TryReserve(line) {
		r.bounce(conn)
		return
	}
	defer r.ledger.Release()

	tagged := Tag(r.seq.Next(), line)
	r.ledger.Broadcast(tagged, r.society.AlivePeers())

	r.reply(conn, r.exec.Execute(cmd))
}

// HandleInternal serves one peer connection: a single packet in, a single
// packet out.
func (r *Router) HandleInternal(conn net.Conn) {
	defer conn.Close()

	payload, err := r.tr.ReadPacket(conn)
	if err != nil {
		r.log.Debug("internal read failed", zap.Error(err))
		return
	}

	if err := r.tr.WritePacket(conn, r.routeInternal(payload)); err != nil {
		r.log.Debug("internal reply failed", zap.Error(err))
	}
}

func (r *Router) routeInternal(payload string) string {
	// PRIMARY/<command>: execute only if this node is the primary.
	if rest, ok := strings.CutPrefix(payload, "PRIMARY/"); ok {
		if !r.society.IsPrimary() {
			r.met.Bounces.Inc()
			return "BOUNCE/" + strconv.Itoa(r.society.PrimaryUserPort())
		}
		cmd, err := command.Parse(rest)
		if err != nil {
			return "error"
		}
		return r.exec.Execute(cmd).Payload()
	}

	prefix, rest, ok := strings.Cut(payload, "/")
	if !ok {
		return "error"
	}

	if port, err := strconv.Atoi(prefix); err == nil {
		if rest == "ElectionInquiry" {
			go r.society.Vote(port)
			return "success"
		}
		if voteArgs, ok := strings.CutPrefix(rest, "ElectionResponse/"); ok {
			return r.registerVote(voteArgs)
		}
	}

	// Everything else on the internal port is a replicated write.
	sequenceID, line, err := Untag(payload)
	if err != nil {
		r.log.Error("refused unsequenced write", zap.String("payload", payload), zap.Error(err))
		return "error"
	}
	cmd, err := command.Parse(line)
	if err != nil || !cmd.IsWrite() {
		r.log.Error("refused malformed replicated write", zap.String("payload", payload))
		return "error"
	}

	r.seq.Observe(sequenceID)
	r.ledger.Add(line)

	// Acknowledged on enqueue, before the drain worker applies it.
	return "success"
}

func (r *Router) registerVote(voteArgs string) string {
	rawSeq, rawPort, ok := strings.Cut(voteArgs, "/")
	if !ok {
		return "error"
	}
	sequenceID, err := strconv.Atoi(rawSeq)
	if err != nil {
		return "error"
	}
	userPort, err := strconv.Atoi(rawPort)
	if err != nil {
		return "error"
	}

	r.society.RegisterVote(Vote{Port: userPort, LastSequenceID: sequenceID})
	return "success"
}

func (r *Router) bounce(conn net.Conn) {
	r.met.Bounces.Inc()
	r.reply(conn, wire.Text("BOUNCE/"+strconv.Itoa(r.society.PrimaryUserPort())))
}

func (r *Router) reply(conn net.Conn, msg wire.Message) {
	if err := r.tr.SendMessage(conn, msg); err != nil {
		r.log.Debug("reply failed", zap.Error(err))
	}
}

func verbOf(line string) string {
	verb, _, _ := strings.Cut(line, "/")
	return verb
}
