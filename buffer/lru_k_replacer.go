package buffer

import (
	"fmt"
	"sync"
)

// LRUKReplacer selects eviction victims using the LRU-K policy of
// O'Neil et al.: the tracked frame with the largest backward k-distance
// (age of its k-th most recent access) is evicted; frames with fewer than
// k recorded accesses have k-distance = +inf and are broken by earliest
// first access timestamp.
type LRUKReplacer struct {
	mu sync.Mutex

	k             int
	replacerSize  int
	nodeStore     map[int]*lrukNode
	currSize      int
	currTimestamp int

	head *lrukNode
	tail *lrukNode
}

// NewLrukReplacer creates a replacer tracking up to capacity frames with a
// k-distance window of k accesses.
func NewLrukReplacer(capacity, k int) *LRUKReplacer {
	head := &lrukNode{frameId: INVALID_FRAME_ID}
	tail := &lrukNode{frameId: INVALID_FRAME_ID}
	head.next = tail
	tail.prev = head

	return &LRUKReplacer{
		k:            k,
		nodeStore:    map[int]*lrukNode{},
		head:         head,
		tail:         tail,
		replacerSize: capacity,
	}
}

// RecordAccess appends the current logical timestamp to frameId's history,
// creating the entry (initially pinned, i.e. not evictable) if absent.
func (lru *LRUKReplacer) RecordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.currTimestamp++

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, k: lru.k}
		lru.addNode(node)
	}
	node.addTimestamp(lru.currTimestamp)
}

// SetEvictable moves frameId between the evictable and pinned sets. It is a
// no-op if frameId is not tracked or already in the requested state.
func (lru *LRUKReplacer) SetEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.currTimestamp++

	node, ok := lru.nodeStore[frameId]
	if !ok || node.isEvictable == evictable {
		return
	}

	node.isEvictable = evictable
	if evictable {
		lru.currSize++
	} else {
		lru.currSize--
	}
}

// Evict returns and removes the victim frame per the LRU-K policy, or
// (INVALID_FRAME_ID, false) when no evictable frame exists.
func (lru *LRUKReplacer) Evict() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.currTimestamp++

	var withoutK, withK *lrukNode
	for _, node := range lru.nodeStore {
		if !node.isEvictable {
			continue
		}

		if !node.hasKAccess() {
			if withoutK == nil || node.kthAccess() < withoutK.kthAccess() {
				withoutK = node
			}
		} else {
			if withK == nil || node.kthAccess() < withK.kthAccess() {
				withK = node
			}
		}
	}

	victim := withoutK
	if victim == nil {
		victim = withK
	}
	if victim == nil {
		return INVALID_FRAME_ID, false
	}

	lru.removeNode(victim)
	delete(lru.nodeStore, victim.frameId)
	lru.currSize--

	return victim.frameId, true
}

// Remove forcibly drops frameId from tracking. It is an error to remove a
// frame that is currently pinned (not evictable) — a programmer error, not
// a runtime condition.
func (lru *LRUKReplacer) Remove(frameId int) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.currTimestamp++

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return nil
	}

	if !node.isEvictable {
		return fmt.Errorf("replacer: remove frame %d: frame is pinned", frameId)
	}

	lru.removeNode(node)
	delete(lru.nodeStore, frameId)
	lru.currSize--

	return nil
}

// Size returns the number of currently evictable frames.
func (lru *LRUKReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.currSize
}

func (lru *LRUKReplacer) removeNode(node *lrukNode) {
	back := node.prev
	front := node.next
	back.next = front
	front.prev = back
}

func (lru *LRUKReplacer) addNode(newNode *lrukNode) {
	tmp := lru.head.next
	lru.head.next = newNode
	newNode.prev = lru.head
	newNode.next = tmp
	tmp.prev = newNode

	lru.nodeStore[newNode.frameId] = newNode
}
