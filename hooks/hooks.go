// Package hooks defines the extension points the dispatch core invokes but
// does not implement: lifecycle observers wrapped around every function
// invocation, and the authentication hook transports call before admitting a
// request.
package hooks

import "context"

// Observer is notified around every registered-function invocation.
// Observers are invoked in registration order with failure isolation: a
// panicking or erroring observer is logged and skipped, it never aborts the
// call or starves later observers.
type Observer interface {
	// OnInvocationStart fires before the function runs.
	OnInvocationStart(ctx context.Context, sessionID, method string)
	// OnInvocationSuccess fires after a successful return.
	OnInvocationSuccess(ctx context.Context, sessionID, method string)
	// OnInvocationError fires when the function returns an error or panics.
	OnInvocationError(ctx context.Context, sessionID, method string, err error)
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil
// members are skipped.
type ObserverFuncs struct {
	Start   func(ctx context.Context, sessionID, method string)
	Success func(ctx context.Context, sessionID, method string)
	Error   func(ctx context.Context, sessionID, method string, err error)
}

func (o ObserverFuncs) OnInvocationStart(ctx context.Context, sessionID, method string) {
	if o.Start != nil {
		o.Start(ctx, sessionID, method)
	}
}

func (o ObserverFuncs) OnInvocationSuccess(ctx context.Context, sessionID, method string) {
	if o.Success != nil {
		o.Success(ctx, sessionID, method)
	}
}

func (o ObserverFuncs) OnInvocationError(ctx context.Context, sessionID, method string, err error) {
	if o.Error != nil {
		o.Error(ctx, sessionID, method, err)
	}
}

// Authenticator is the pluggable authorization hook. Transports call it with
// the credential material they extracted (e.g. a bearer token); a non-nil
// error rejects the request before it reaches the dispatcher. The core
// ships no implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (userID string, err error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, credential string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, credential string) (string, error) {
	return f(ctx, credential)
}
