package consensus

import (
	"context"
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/telemetry"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
)

// MessageKind distinguishes the two inbound wire channels the manager
// demultiplexes.
type MessageKind int

const (
	KindVote MessageKind = iota
	KindProposalPart
)

// ProposalPart is one chunk of a proposal's content stream; Init carries
// the proposal's header (nil on later, non-first parts) and Fin marks the
// last part.
type ProposalPart struct {
	Proposer  types.ValidatorID
	PartIndex uint32
	Payload   []byte
	Init      *ProposalInit
	Fin       bool
}

// ProposalInit is the sentinel first part of a proposal's content stream.
type ProposalInit struct {
	BlockInfo  types.BlockInfo
	ContentID  types.Hash
	ValidRound *uint32
}

// InboundMessage is a wire frame addressed to a specific (height, round).
type InboundMessage struct {
	Height uint64
	Round  uint32
	Kind   MessageKind
	Vote   *types.Vote
	Part   *ProposalPart
}

// ManagerCache holds inbound messages for heights the manager has not yet
// reached, bounded per-height and per-kind. Entries for heights at or below
// the most recently decided height are discarded on decision.
type ManagerCache struct {
	mu        sync.Mutex
	perHeight map[uint64][]InboundMessage
	order     []uint64 // insertion order of first-seen heights, oldest first
	maxHeight int       // cap on distinct buffered heights
	maxPerKey int       // cap on messages per (height, kind)
}

// NewManagerCache creates a cache bounded to maxHeights distinct future
// heights and maxPerKey messages per (height, kind) within each.
func NewManagerCache(maxHeights, maxPerKey int) *ManagerCache {
	return &ManagerCache{
		perHeight: make(map[uint64][]InboundMessage),
		maxHeight: maxHeights,
		maxPerKey: maxPerKey,
	}
}

// Put buffers msg for a future height, evicting the oldest buffered height
// if the cache is at capacity and msg.Height introduces a new one.
func (c *ManagerCache) Put(msg InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.perHeight[msg.Height]; !ok {
		if len(c.order) >= c.maxHeight && c.maxHeight > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.perHeight, oldest)
		}
		c.order = append(c.order, msg.Height)
	}

	bucket := c.perHeight[msg.Height]
	count := 0
	for _, m := range bucket {
		if m.Kind == msg.Kind {
			count++
		}
	}
	if c.maxPerKey > 0 && count >= c.maxPerKey {
		return
	}
	c.perHeight[msg.Height] = append(bucket, msg)
}

// Take removes and returns every message buffered for height, if any.
func (c *ManagerCache) Take(height uint64) []InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.perHeight[height]
	delete(c.perHeight, height)
	for i, h := range c.order {
		if h == height {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return msgs
}

// PurgeUpTo discards every buffered height at or below height, per §4.6 step 6.
func (c *ManagerCache) PurgeUpTo(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, h := range c.order {
		if h <= height {
			delete(c.perHeight, h)
			continue
		}
		kept = append(kept, h)
	}
	c.order = kept
}

// Len reports the number of distinct future heights currently buffered.
// Exposed for the cache-bounds property test.
func (c *ManagerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// BlockLayer is what the manager needs from the block/storage layer to
// bootstrap: the most recently committed block's metadata.
type BlockLayer interface {
	PreviousBlockInfo() (types.BlockInfo, error)
}

// SyncSignal reports block-sync hand-off events: a synced height at or
// beyond the manager's current height means consensus has been overtaken
// and must adopt sync's result instead of deciding on its own.
type SyncSignal struct {
	SyncedHeight uint64
	BlockInfo    types.BlockInfo
}

// CommitEvent reports a height that has just been decided, either by the
// manager's own consensus instance or adopted from block-sync. It is the
// manager's external notification channel for RPC-layer block streaming.
type CommitEvent struct {
	Height     uint64
	ProposalID types.Hash
	BlockInfo  types.BlockInfo
}

// ContextFactory builds the ConsensusContext for a new height, so each SHC
// gets a context bound to that height's validator set and previous block
// info, with no shared mutable singleton between heights.
type ContextFactory func(height uint64, previous types.BlockInfo) ConsensusContext

// ConsensusManager drives heights forward: it creates a SingleHeightConsensus
// per height, demultiplexes inbound network messages between "deliver now"
// and "cache for later," and hands off to block-sync when sync overtakes
// the height consensus is working on.
type ConsensusManager struct {
	block    BlockLayer
	valSet   *types.ValidatorSet
	self     types.ValidatorID
	newCtx   ContextFactory
	timeouts TimeoutConfig
	cache    *ManagerCache
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	inbound chan InboundMessage
	sync    chan SyncSignal
	commits chan CommitEvent
}

// ManagerConfig configures a ConsensusManager.
type ManagerConfig struct {
	BlockLayer      BlockLayer
	ValSet          *types.ValidatorSet
	Self            types.ValidatorID
	NewContext      ContextFactory
	Timeouts        TimeoutConfig
	CacheMaxHeights int
	CacheMaxPerKey  int
	Logger          *zap.Logger
	Metrics         *telemetry.Metrics
}

// NewConsensusManager builds a manager from cfg. A nil cfg.Metrics disables
// telemetry for the manager and every SHC it starts.
func NewConsensusManager(cfg ManagerConfig) *ConsensusManager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	maxHeights := cfg.CacheMaxHeights
	if maxHeights <= 0 {
		maxHeights = 16
	}
	maxPerKey := cfg.CacheMaxPerKey
	if maxPerKey <= 0 {
		maxPerKey = 64
	}
	return &ConsensusManager{
		block:    cfg.BlockLayer,
		valSet:   cfg.ValSet,
		self:     cfg.Self,
		newCtx:   cfg.NewContext,
		timeouts: cfg.Timeouts,
		cache:    NewManagerCache(maxHeights, maxPerKey),
		logger:   logger.Named("consensus_manager"),
		metrics:  metrics,
		inbound:  make(chan InboundMessage, 256),
		sync:     make(chan SyncSignal, 1),
		commits:  make(chan CommitEvent, 64),
	}
}

// Deliver enqueues a network message for classification against the
// manager's current height.
func (m *ConsensusManager) Deliver(msg InboundMessage) {
	m.inbound <- msg
}

// NotifySync reports a block-sync hand-off; the manager disposes its
// current SHC and adopts sig's result on its next loop iteration.
func (m *ConsensusManager) NotifySync(sig SyncSignal) {
	select {
	case m.sync <- sig:
	default:
	}
}

// SubscribeCommits returns the channel CommitEvents are published to as
// heights are decided, either by this manager's own consensus or adopted
// from block-sync. The RPC layer uses this to serve block-stream requests.
func (m *ConsensusManager) SubscribeCommits() <-chan CommitEvent {
	return m.commits
}

// publishCommit sends evt to the commits channel without blocking the
// driver loop; a full channel drops the event rather than stalling
// consensus, since SubscribeCommits is a best-effort notification feed.
func (m *ConsensusManager) publishCommit(evt CommitEvent) {
	select {
	case m.commits <- evt:
	default:
		m.logger.Warn("commit event dropped, subscriber too slow", zap.Uint64("height", evt.Height))
	}
}

// Run drives heights until runCtx is cancelled. It loads previous_block_info,
// enters the first height, and loops: polling SHC decisions, inbound
// messages, and sync signals, per §4.6.
func (m *ConsensusManager) Run(runCtx context.Context) error {
	previous, err := m.block.PreviousBlockInfo()
	if err != nil {
		return &FatalError{Op: "ConsensusManager.Run", Err: err}
	}

	height := previous.Height + 1
	cancelSHC := func() {}
	shc := m.startHeight(runCtx, height, previous, &cancelSHC)

	for {
		select {
		case <-runCtx.Done():
			cancelSHC()
			return nil

		case sig := <-m.sync:
			if sig.SyncedHeight < height {
				continue
			}
			m.logger.Info("sync overtook consensus, disposing SHC", zap.Uint64("from_height", height), zap.Uint64("synced_height", sig.SyncedHeight))
			cancelSHC()
			previous = sig.BlockInfo
			m.publishCommit(CommitEvent{Height: sig.SyncedHeight, ProposalID: sig.BlockInfo.ContentID, BlockInfo: sig.BlockInfo})
			height = sig.SyncedHeight + 1
			m.cache.PurgeUpTo(sig.SyncedHeight)
			shc = m.startHeight(runCtx, height, previous, &cancelSHC)

		case msg := <-m.inbound:
			m.classify(msg, height, shc)

		case dec, ok := <-shc.Decisions():
			if !ok {
				continue
			}
			cancelSHC()
			previous = dec.BlockInfo
			m.publishCommit(CommitEvent{Height: height, ProposalID: dec.ProposalID, BlockInfo: dec.BlockInfo})
			m.cache.PurgeUpTo(height)
			height++
			shc = m.startHeight(runCtx, height, previous, &cancelSHC)
			for _, replay := range m.cache.Take(height) {
				m.classify(replay, height, shc)
			}
		}
	}
}

// classify implements §4.6 step 4: drop messages for past heights, deliver
// current-height messages to shc, and buffer future-height messages.
func (m *ConsensusManager) classify(msg InboundMessage, height uint64, shc *SingleHeightConsensus) {
	switch {
	case msg.Height < height:
		return
	case msg.Height == height:
		switch msg.Kind {
		case KindVote:
			if msg.Vote != nil {
				shc.Post(EventVote{Kind: msg.Vote.Kind, Round: msg.Vote.Round, ProposalID: msg.Vote.ProposalID, Voter: msg.Vote.Voter})
			}
		case KindProposalPart:
			if msg.Part != nil && msg.Part.Init != nil {
				shc.ReceiveProposal(msg.Round, msg.Part.Proposer, msg.Part.Init.ContentID, msg.Part.Init.BlockInfo, [][]byte{msg.Part.Payload}, msg.Part.Init.ValidRound)
			}
		}
	default:
		m.cache.Put(msg)
	}
}

// startHeight creates and launches a new SHC for height, with its context
// bound to previous via SetPreviousBlockInfo before Start is fed. The
// returned cancel func is written into *cancel so the caller can dispose of
// this SHC's goroutine from a later loop iteration (sync overtaking it, or a
// decision advancing past it).
func (m *ConsensusManager) startHeight(parent context.Context, height uint64, previous types.BlockInfo, cancel *func()) *SingleHeightConsensus {
	cctx := m.newCtx(height, previous)
	cctx.SetPreviousBlockInfo(previous)
	shc := NewSingleHeightConsensus(height, m.valSet, m.self, cctx, m.timeouts, m.logger, m.metrics)

	runCtx, cancelFn := context.WithCancel(parent)
	*cancel = cancelFn
	go func() {
		if err := shc.Run(runCtx); err != nil {
			m.logger.Error("shc halted", zap.Uint64("height", height), zap.Error(err))
		}
	}()
	return shc
}
