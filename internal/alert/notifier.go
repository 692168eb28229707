package alert

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so components can depend on it without importing
// concrete implementations (e.g. Twilio).
type TextNotifier interface {
	SendText(text string) error
}
