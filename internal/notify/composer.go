package notify

import (
	"fmt"
	"time"
)

// ComposeAlertText builds the SMS body sent to an emergency contact. Pure
// function of live user/event data so retries never resend stale content.
func ComposeAlertText(userName string, scheduledAt time.Time) string {
	if userName == "" {
		userName = "Your contact"
	}
	return fmt.Sprintf(
		"%s missed their safety check-in scheduled for %s and has not responded. Please try to reach them.",
		userName, scheduledAt.UTC().Format("15:04 MST on Jan 2"),
	)
}

// ComposeCheckinPrompt builds the push notification asking the user to check in.
func ComposeCheckinPrompt(deadline time.Time) PushNotification {
	return PushNotification{
		Title:         "Time to check in",
		Body:          fmt.Sprintf("Please confirm you're OK before %s.", deadline.UTC().Format("15:04 MST")),
		Category:      CategoryCheckinActions,
		TimeSensitive: true,
		Data:          map[string]string{"deadline": deadline.UTC().Format(time.RFC3339)},
	}
}

// ComposeContactPush builds the push notification sent to a contact who has
// the app installed.
func ComposeContactPush(userName string, scheduledAt time.Time) PushNotification {
	if userName == "" {
		userName = "Your contact"
	}
	return PushNotification{
		Title:         fmt.Sprintf("%s may need help", userName),
		Body:          ComposeAlertText(userName, scheduledAt),
		Category:      CategoryCheckinActions,
		TimeSensitive: true,
		Data:          map[string]string{"scheduled_time": scheduledAt.UTC().Format(time.RFC3339)},
	}
}
