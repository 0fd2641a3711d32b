package taskloop

// Scope is the context-manager protocol shared by CancelScope, Group,
// and Semaphore (spec §4.2/§4.6/§4.7): Enter reserves whatever the scope
// guards, Exit releases it and folds any in-flight error into the
// scope's own outcome.
//
// Typical use:
//
//	sc := NewCancelScope(ctx)
//	if err := sc.Enter(); err != nil {
//		return err
//	}
//	defer func() { err = sc.Exit(err) }()
type Scope interface {
	Enter() error
	Exit(err error) error
}
