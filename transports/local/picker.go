package local

import (
	"chatkit/core"
	"context"
	"sync"
)

// FileImagePicker hands out an image path chosen beforehand with Select,
// the way a gallery returns the user's pick. Each selection is picked once.
type FileImagePicker struct {
	mu   sync.Mutex
	next string
}

func NewFileImagePicker() *FileImagePicker {
	return &FileImagePicker{}
}

// Select queues path for the next Pick.
func (p *FileImagePicker) Select(path string) {
	p.mu.Lock()
	p.next = path
	p.mu.Unlock()
}

func (p *FileImagePicker) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

// Pick returns nil when nothing was selected.
func (p *FileImagePicker) Pick(ctx context.Context) (*core.ImageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == "" {
		return nil, nil
	}
	ref := core.NewImageRef(p.next)
	p.next = ""
	return ref, nil
}
