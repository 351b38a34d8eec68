package cache

// lruNode is a node in the recency list of a shard.
// It carries the key so eviction can delete from the shard map in O(1).
type lruNode[K comparable] struct {
	key        K
	prev, next *lruNode[K]
}

// lruList is a circular doubly-linked list anchored at a sentinel.
// root.next is the most recently used entry, root.prev the least.
// Not safe for concurrent use; the owning shard holds the lock.
type lruList[K comparable] struct {
	root lruNode[K]
	n    int
}

func newLRUList[K comparable]() *lruList[K] {
	l := &lruList[K]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

func (l *lruList[K]) Len() int { return l.n }

// PushFront inserts key as the most recently used entry.
func (l *lruList[K]) PushFront(key K) *lruNode[K] {
	node := &lruNode[K]{key: key}
	l.insertAfter(node, &l.root)
	l.n++
	return node
}

// Touch marks node as most recently used.
func (l *lruList[K]) Touch(node *lruNode[K]) {
	if node == nil || l.root.next == node {
		return
	}
	l.detach(node)
	l.insertAfter(node, &l.root)
}

func (l *lruList[K]) Remove(node *lruNode[K]) {
	if node == nil || node.next == nil {
		return
	}
	l.detach(node)
	node.next, node.prev = nil, nil
	l.n--
}

// PopOldest removes the least recently used entry.
func (l *lruList[K]) PopOldest() (K, bool) {
	if l.n == 0 {
		var zero K
		return zero, false
	}
	node := l.root.prev
	l.Remove(node)
	return node.key, true
}

func (l *lruList[K]) Reset() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.n = 0
}

func (l *lruList[K]) insertAfter(node, at *lruNode[K]) {
	node.prev = at
	node.next = at.next
	at.next.prev = node
	at.next = node
}

func (l *lruList[K]) detach(node *lruNode[K]) {
	node.prev.next = node.next
	node.next.prev = node.prev
}
