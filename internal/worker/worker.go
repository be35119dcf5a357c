// Package worker implements the parse worker pool of spec §4.4/§5: a
// fixed-size set of workers drains a shared ingress channel, hands each
// datagram's decode+USM work to a bounded CPU pool so that slow crypto
// never stalls the goroutines servicing UDP sockets, and forwards any
// synthesized response back to the egress channel of its originating
// socket.
package worker

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/snmpworks/trapd/internal/config"
	"github.com/snmpworks/trapd/internal/message"
)

// Datagram is one received UDP payload, tagged with its peer address and
// the index of the listener socket it arrived on (so a response can be
// routed back through the same socket).
type Datagram struct {
	Payload     []byte
	Addr        *net.UDPAddr
	SocketIndex int
}

// Outbound is a response ready to be written back to a peer.
type Outbound struct {
	Payload []byte
	Addr    *net.UDPAddr
}

// Pool is the parse worker pool. Construct with New, feed it via the
// channel returned by Ingress, and run it with Run.
type Pool struct {
	ingress     chan Datagram
	egress      []chan Outbound
	cpu         *pool.Pool
	caches      *message.Caches
	settings    *config.Settings
	users       map[string]message.User
	communities map[string]struct{}
	log         zerolog.Logger
}

// New builds a Pool against settings, with one egress channel per
// listener socket (numListeners, indexed the same way listeners are).
func New(settings *config.Settings, caches *message.Caches, numListeners int, log zerolog.Logger) *Pool {
	users := make(map[string]message.User, len(settings.Snmptrapd.Auth.User))
	for _, u := range settings.Snmptrapd.Auth.User {
		users[u.Username] = u.ToMessageUser()
	}
	communities := make(map[string]struct{}, len(settings.Snmptrapd.Auth.Community))
	for _, c := range settings.Snmptrapd.Auth.Community {
		communities[c.Name] = struct{}{}
	}

	egress := make([]chan Outbound, numListeners)
	for i := range egress {
		egress[i] = make(chan Outbound, 64)
	}

	return &Pool{
		ingress:     make(chan Datagram, 1024),
		egress:      egress,
		cpu:         pool.New().WithMaxGoroutines(runtime.NumCPU()),
		caches:      caches,
		settings:    settings,
		users:       users,
		communities: communities,
		log:         log,
	}
}

// Ingress returns the channel listeners feed received datagrams into.
func (p *Pool) Ingress() chan<- Datagram { return p.ingress }

// Egress returns the response channel for listener socketIdx.
func (p *Pool) Egress(socketIdx int) <-chan Outbound { return p.egress[socketIdx] }

// Close closes the ingress channel, signaling workers to drain and exit
// once every in-flight datagram has been handled.
func (p *Pool) Close() { close(p.ingress) }

// Run starts settings.ParseWorkers goroutines draining the ingress
// channel and blocks until the channel is closed and drained (see
// Close), then drains the CPU pool and closes every egress channel.
func (p *Pool) Run(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < p.settings.ParseWorkers; i++ {
		g.Go(func() error {
			for d := range p.ingress {
				p.handle(d)
			}
			return nil
		})
	}
	err := g.Wait()
	p.cpu.Wait()
	for _, ch := range p.egress {
		close(ch)
	}
	return err
}

type parseResult struct {
	response []byte
	err      error
}

// handle offloads the decode+USM work for one datagram to the CPU pool
// and, on success, forwards any synthesized response to the originating
// socket's egress channel. A full egress channel is treated the same as
// any other drop: logged at debug, no retry.
func (p *Pool) handle(d Datagram) {
	resultCh := make(chan parseResult, 1)
	p.cpu.Go(func() {
		resultCh <- p.parse(d.Payload)
	})
	result := <-resultCh

	if result.err != nil {
		p.log.Debug().Err(result.err).Str("peer", d.Addr.String()).Msg("dropping snmp message")
		return
	}
	if result.response == nil {
		return
	}
	select {
	case p.egress[d.SocketIndex] <- Outbound{Payload: result.response, Addr: d.Addr}:
	default:
		p.log.Debug().Int("socket", d.SocketIndex).Msg("egress channel full, dropping response")
	}
}

// parse decodes payload and runs per-version admission: community check
// for v1/v2c, USM user lookup+processing for v3.
func (p *Pool) parse(payload []byte) parseResult {
	msg, err := message.DecodeMessage(payload)
	if err != nil {
		return parseResult{err: err}
	}

	switch {
	case msg.V1 != nil:
		if err := p.checkCommunity(msg.V1.Community); err != nil {
			return parseResult{err: err}
		}
		return parseResult{}
	case msg.V2 != nil:
		if err := p.checkCommunity(msg.V2.Community); err != nil {
			return parseResult{err: err}
		}
		return parseResult{response: msg.V2.Response}
	case msg.V3 != nil:
		return p.processV3(msg.V3)
	default:
		return parseResult{err: fmt.Errorf("worker: decoded message carries no variant")}
	}
}

func (p *Pool) checkCommunity(community []byte) error {
	if !p.settings.Snmptrapd.Auth.Enable {
		return nil
	}
	if _, ok := p.communities[string(community)]; !ok {
		return fmt.Errorf("worker: community not allowed: %q", community)
	}
	return nil
}

// processV3 looks up the configured user by username and runs the USM
// state machine against it. With auth disabled there is no configured
// user to localize keys against, so v3 messages are dropped outright
// (spec §6: "no v3 user lookup" when snmptrapd.auth.enable is false).
func (p *Pool) processV3(m *message.V3Message) parseResult {
	if !p.settings.Snmptrapd.Auth.Enable {
		return parseResult{err: fmt.Errorf("worker: v3 processing requires snmptrapd.auth.enable")}
	}
	username := string(m.SecurityParameters.UserName)
	user, ok := p.users[username]
	if !ok {
		return parseResult{err: fmt.Errorf("worker: username not allowed: %q", username)}
	}
	if err := message.ProcessV3(m, user, p.caches, time.Now()); err != nil {
		return parseResult{err: err}
	}
	return parseResult{response: m.Response}
}
