package core

import "context"

// IService is the lifecycle every remote collaborator implements.
type IService interface {
	Initialize(ctx context.Context) error
	Cleanup() error
	Reset() error
}

// NopService gives collaborators without connection state a lifecycle.
type NopService struct{}

func (NopService) Initialize(context.Context) error { return nil }
func (NopService) Cleanup() error                   { return nil }
func (NopService) Reset() error                     { return nil }
