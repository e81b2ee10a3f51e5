package queue

import (
	"hash/fnv"
	"sync"
)

// sessionLocks — шардированные мьютексы per-session. Несвязанные сессии
// не сериализуются друг о друга; один глобальный лок здесь был бы
// узким местом всего Data Plane.
type sessionLocks struct {
	shards [64]sync.Mutex
}

func (l *sessionLocks) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	m := &l.shards[h.Sum32()%uint32(len(l.shards))]
	m.Lock()
	return m.Unlock
}
