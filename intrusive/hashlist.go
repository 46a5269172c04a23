package intrusive

type (
	// HashNode is an intrusive hash list hook, keyed at attach time.
	HashNode[K comparable, V any] struct {
		next, prev *HashNode[K, V]
		bucket     *hashBucket[K, V] // non-nil iff attached
		Key        K
		Value      V
	}

	hashBucket[K comparable, V any] struct {
		head *HashNode[K, V]
	}

	// HashList is an intrusive bucketed hash list. Bucket count is fixed at
	// construction and should be prime; the process table uses the default
	// of 31. Not internally synchronized.
	HashList[K comparable, V any] struct {
		buckets []hashBucket[K, V]
		hash    func(K) uint64
		size    int
	}
)

// DefaultHashBuckets is the bucket count used when none is configured.
const DefaultHashBuckets = 31

// NewHashList constructs a hash list with the given bucket count (the
// default prime when <= 0) and hash function. A nil hash function is fatal.
func NewHashList[K comparable, V any](buckets int, hash func(K) uint64) *HashList[K, V] {
	if hash == nil {
		panic(`intrusive: hashlist: nil hash function`)
	}
	if buckets <= 0 {
		buckets = DefaultHashBuckets
	}
	return &HashList[K, V]{
		buckets: make([]hashBucket[K, V], buckets),
		hash:    hash,
	}
}

// HashUint64 is a Fibonacci-style mixer suitable for integer keys.
func HashUint64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return x
}

// Attached reports whether the node is currently in a hash list.
func (x *HashNode[K, V]) Attached() bool { return x.bucket != nil }

// Len returns the number of attached nodes.
func (x *HashList[K, V]) Len() int { return x.size }

func (x *HashList[K, V]) bucketOf(key K) *hashBucket[K, V] {
	return &x.buckets[x.hash(key)%uint64(len(x.buckets))]
}

// Insert attaches n under n.Key. If n is already attached it is returned
// unchanged; if another node holds the key, that node is returned and n is
// not inserted. Returns nil on success.
func (x *HashList[K, V]) Insert(n *HashNode[K, V]) *HashNode[K, V] {
	if n.bucket != nil {
		return n
	}
	b := x.bucketOf(n.Key)
	for c := b.head; c != nil; c = c.next {
		if c.Key == n.Key {
			return c
		}
	}
	n.next = b.head
	n.prev = nil
	if b.head != nil {
		b.head.prev = n
	}
	b.head = n
	n.bucket = b
	x.size++
	return nil
}

// Lookup returns the node attached under key, or nil.
func (x *HashList[K, V]) Lookup(key K) *HashNode[K, V] {
	for c := x.bucketOf(key).head; c != nil; c = c.next {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Remove detaches n, returning it. Removing an unattached node is fatal.
func (x *HashList[K, V]) Remove(n *HashNode[K, V]) *HashNode[K, V] {
	b := n.bucket
	if b == nil {
		panic(`intrusive: hashlist: remove of unattached node`)
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		b.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.next = nil
	n.prev = nil
	n.bucket = nil
	x.size--
	return n
}

// RemoveKey detaches and returns the node attached under key, or nil.
func (x *HashList[K, V]) RemoveKey(key K) *HashNode[K, V] {
	n := x.Lookup(key)
	if n == nil {
		return nil
	}
	return x.Remove(n)
}

// Iterate visits every attached node until fn returns false. Mutation other
// than removing the visited node is not allowed during iteration.
func (x *HashList[K, V]) Iterate(fn func(*HashNode[K, V]) bool) {
	for i := range x.buckets {
		for c := x.buckets[i].head; c != nil; {
			next := c.next
			if !fn(c) {
				return
			}
			c = next
		}
	}
}
