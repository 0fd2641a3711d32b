package taskloop

import "sync"

// Registry is the scheduler's name -> running task id table (spec §9
// "Global name registry" design note). Unlike eventloop/registry.go's
// weak-pointer ring buffer — built to scavenge a high-churn promise
// population without the owner ever explicitly releasing entries — a
// task's lifetime here is already tracked precisely by the scheduler's
// tasks map, so a plain mutex-guarded map is all this needs: entries are
// removed deterministically in completeTask, never scavenged.
type Registry struct {
	mu   sync.RWMutex
	byName map[string]TaskID
	byID   map[TaskID]string
}

func newRegistry() *Registry {
	return &Registry{
		byName: make(map[string]TaskID),
		byID:   make(map[TaskID]string),
	}
}

// bindRunning associates name with id, replacing any previous task that
// held the same name (spec: names identify the current holder, not a
// reservation).
func (r *Registry) bindRunning(name string, id TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byName[name]; ok {
		delete(r.byID, old)
	}
	r.byName[name] = id
	r.byID[id] = name
}

// unbind removes id's name binding, if any. Called when a task
// terminates.
func (r *Registry) unbind(id TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if r.byName[name] == id {
		delete(r.byName, name)
	}
}

// Lookup returns the id currently bound to name, if any.
func (r *Registry) Lookup(name string) (TaskID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// NameOf returns the name bound to id, if any.
func (r *Registry) NameOf(id TaskID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byID[id]
	return name, ok
}
