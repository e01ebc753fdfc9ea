package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = notificationsDest + ".Notify"
)

// Send shows a notification through the session bus notification daemon.
func Send(ctx context.Context, title, body string) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: session bus: %v", ErrUnsupported, err)
	}
	defer conn.Close()

	call := conn.Object(notificationsDest, notificationsPath).
		CallWithContext(ctx, notificationsNotify, 0, notifyArgs(title, body)...)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// notifyArgs follows the Notify signature (susssasa{sv}i); expire -1 leaves
// the timeout to the server.
func notifyArgs(title, body string) []any {
	return []any{
		appName,
		uint32(0),
		"",
		title,
		body,
		[]string{},
		map[string]dbus.Variant{},
		int32(-1),
	}
}
