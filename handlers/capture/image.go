package capture

import (
	"chatkit/core"
	"context"
	"errors"
	"fmt"
)

var ErrPickCancelled = errors.New("capture: image selection cancelled")

// PickImage asks for permission and returns the chosen image reference.
// The image bytes are not read here.
func PickImage(ctx context.Context, picker ImagePicker) (*core.ImageRef, error) {
	granted, err := picker.RequestPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: image permission: %w", err)
	}
	if !granted {
		return nil, core.ErrPermissionDenied
	}
	ref, err := picker.Pick(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: pick image: %w", err)
	}
	if ref == nil {
		return nil, ErrPickCancelled
	}
	return ref, nil
}
