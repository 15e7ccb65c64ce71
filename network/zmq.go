package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/gordonkoehn/BioVault/message"
)

// Common errors for network operations.
var (
	ErrNodeNotRunning = errors.New("node is not running")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrSendFailed     = errors.New("failed to send message")
)

// PeerInfo describes a known peer. The wallet address is the peer's identity
// on the wire; the endpoint is where its ROUTER socket listens.
type PeerInfo struct {
	Address  string    `json:"address"`
	Endpoint string    `json:"endpoint"`
	LastSeen time.Time `json:"last_seen"`
}

// Handler processes one inbound envelope. sender is the transport-attested
// wallet address of the delivering peer, taken from the ROUTER identity
// frame, never from the message body.
type Handler func(sender string, env message.Envelope)

// Node is a ZeroMQ node speaking the BioVault message catalog. Its DEALER
// sockets carry the node's wallet address as socket identity, so the
// receiving ROUTER can attest who delivered each message.
type Node struct {
	address  string // this node's wallet address
	endpoint string // tcp endpoint the router binds to

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket            // receives inbound traffic
	dealers map[string]zmq4.Socket // outbound socket per peer address

	peers map[string]*PeerInfo
	mu    sync.RWMutex

	handler Handler
	envChan chan inbound

	log     zerolog.Logger
	running bool
	wg      sync.WaitGroup

	dropped uint64
}

type inbound struct {
	sender string
	env    message.Envelope
}

// NewNode creates a node identified by the given wallet address, binding its
// ROUTER socket to host:port.
func NewNode(address, host string, port int, logger zerolog.Logger) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		address:  address,
		endpoint: fmt.Sprintf("tcp://%s:%d", host, port),
		ctx:      ctx,
		cancel:   cancel,
		dealers:  make(map[string]zmq4.Socket),
		peers:    make(map[string]*PeerInfo),
		envChan:  make(chan inbound, 1000),
		log:      logger.With().Str("component", "network").Str("address", address).Logger(),
	}
}

// Address returns this node's wallet address.
func (n *Node) Address() string { return n.address }

// Endpoint returns the ROUTER bind endpoint.
func (n *Node) Endpoint() string { return n.endpoint }

// SetHandler sets the inbound message callback. Must be called before Start.
func (n *Node) SetHandler(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

// Start binds the ROUTER socket and begins receiving.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return errors.New("node already running")
	}

	n.router = zmq4.NewRouter(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.address)))
	if err := n.router.Listen(n.endpoint); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	n.running = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.receiverLoop()

	n.wg.Add(1)
	go n.processor()

	n.log.Info().Str("endpoint", n.endpoint).Msg("node listening")
	return nil
}

// Stop shuts the node down. Close errors during shutdown are expected and
// discarded.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.cancel()

	if n.router != nil {
		_ = n.router.Close()
	}
	n.mu.Lock()
	for _, dealer := range n.dealers {
		_ = dealer.Close()
	}
	n.mu.Unlock()

	n.wg.Wait()
	close(n.envChan)
}

// RegisterPeer binds a wallet address to a dialable endpoint.
func (n *Node) RegisterPeer(address, endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[address] = &PeerInfo{
		Address:  address,
		Endpoint: endpoint,
		LastSeen: time.Now(),
	}
}

// UnregisterPeer removes a peer and closes its outbound socket.
func (n *Node) UnregisterPeer(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.peers, address)
	if dealer, ok := n.dealers[address]; ok {
		_ = dealer.Close()
		delete(n.dealers, address)
	}
}

// Peers returns a copy of the known peer table.
func (n *Node) Peers() map[string]*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make(map[string]*PeerInfo, len(n.peers))
	for addr, p := range n.peers {
		cp := *p
		peers[addr] = &cp
	}
	return peers
}

// Send delivers one message to the peer with the given wallet address. Peers
// with a registered endpoint are reached over a DEALER socket; peers without
// one are assumed to have dialed in and are answered through the ROUTER
// using their identity frame.
func (n *Node) Send(ctx context.Context, to string, m message.Message) error {
	n.mu.RLock()
	running := n.running
	peer := n.peers[to]
	n.mu.RUnlock()

	if !running {
		return ErrNodeNotRunning
	}

	env, err := message.Encode(m)
	if err != nil {
		return err
	}
	env.From = n.address
	env.To = to

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if peer != nil && peer.Endpoint != "" {
		dealer, err := n.getOrCreateDealer(to, peer.Endpoint)
		if err != nil {
			return err
		}
		if err := dealer.Send(zmq4.NewMsg(data)); err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		return nil
	}

	// Reply path: the peer connected to our router, so its identity frame
	// routes the response.
	if err := n.router.Send(zmq4.NewMsgFrom([]byte(to), data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Broadcast sends a message to every registered peer, excluding the listed
// addresses. Individual failures are logged; the last one is returned.
func (n *Node) Broadcast(ctx context.Context, m message.Message, exclude []string) error {
	n.mu.RLock()
	addrs := make([]string, 0, len(n.peers))
	for addr := range n.peers {
		addrs = append(addrs, addr)
	}
	n.mu.RUnlock()

	excluded := make(map[string]bool, len(exclude))
	for _, addr := range exclude {
		excluded[addr] = true
	}

	var lastErr error
	for _, addr := range addrs {
		if excluded[addr] {
			continue
		}
		if err := n.Send(ctx, addr, m); err != nil {
			n.log.Warn().Err(err).Str("peer", addr).Msg("broadcast delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

func (n *Node) getOrCreateDealer(address, endpoint string) (zmq4.Socket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dealer, ok := n.dealers[address]; ok {
		return dealer, nil
	}

	// The socket identity is this node's wallet address, so the remote
	// router attests it as the sender.
	dealer := zmq4.NewDealer(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.address)))
	if err := dealer.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	n.dealers[address] = dealer
	return dealer, nil
}

// receiverLoop pulls frames off the ROUTER socket. Multipart messages carry
// the sender identity in the first frame and the envelope in the last;
// single-frame messages fall back to the envelope's from field.
func (n *Node) receiverLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
			msg, err := n.router.Recv()
			if err != nil {
				select {
				case <-n.ctx.Done():
					return
				default:
					continue
				}
			}

			var sender string
			payload := msg.Bytes()
			if len(msg.Frames) > 1 {
				sender = string(msg.Frames[0])
				payload = msg.Frames[len(msg.Frames)-1]
			}

			var env message.Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				n.log.Debug().Err(err).Msg("discarding unparseable frame")
				continue
			}
			if sender == "" {
				sender = env.From
			}

			n.touchPeer(sender)

			select {
			case n.envChan <- inbound{sender: sender, env: env}:
			default:
				n.mu.Lock()
				n.dropped++
				n.mu.Unlock()
			}
		}
	}
}

func (n *Node) touchPeer(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[address]; ok {
		p.LastSeen = time.Now()
	}
}

// processor hands queued envelopes to the handler.
func (n *Node) processor() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case in, ok := <-n.envChan:
			if !ok {
				return
			}
			n.mu.RLock()
			handler := n.handler
			n.mu.RUnlock()
			if handler != nil {
				handler(in.sender, in.env)
			}
		}
	}
}

// NodeStats contains node statistics.
type NodeStats struct {
	Address   string `json:"address"`
	Endpoint  string `json:"endpoint"`
	PeerCount int    `json:"peer_count"`
	IsRunning bool   `json:"is_running"`
	QueueSize int    `json:"queue_size"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns current node statistics.
func (n *Node) Stats() NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return NodeStats{
		Address:   n.address,
		Endpoint:  n.endpoint,
		PeerCount: len(n.peers),
		IsRunning: n.running,
		QueueSize: len(n.envChan),
		Dropped:   n.dropped,
	}
}
