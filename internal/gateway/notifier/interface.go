package notifier

import "context"

// TextNotifier is a minimal text push interface. It is intentionally small so
// components can depend on it without importing concrete implementations.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
