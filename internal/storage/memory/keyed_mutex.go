package memory

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex выдаёт отдельный мьютекс на ключ и удаляет его, когда он никому не нужен.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Lock блокирует ключ и возвращает функцию разблокировки.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
