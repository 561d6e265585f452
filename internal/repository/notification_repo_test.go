package repository

import (
	"context"
	"testing"

	"github.com/jmylchreest/revsync-api/internal/models"
)

func TestNotificationRepository_InsertDeduplicates(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	n := func() *models.StoreNotification {
		return &models.StoreNotification{
			AppID:            app.ID,
			Platform:         models.PlatformAppStore,
			NotificationID:   "uuid-1",
			NotificationType: "DID_RENEW",
			Payload:          `{}`,
		}
	}

	inserted, err := repos.Notification.Insert(ctx, n())
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if !inserted {
		t.Error("first Insert() should report inserted")
	}

	inserted, err = repos.Notification.Insert(ctx, n())
	if err != nil {
		t.Fatalf("second Insert() error = %v", err)
	}
	if inserted {
		t.Error("redelivered notification should not be inserted")
	}

	count, err := repos.Notification.CountByApp(ctx, app.ID)
	if err != nil {
		t.Fatalf("CountByApp() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountByApp() = %d, want 1", count)
	}
}

func TestNotificationRepository_ListByApp(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	for _, id := range []string{"a", "b", "c"} {
		if _, err := repos.Notification.Insert(ctx, &models.StoreNotification{
			AppID: app.ID, Platform: models.PlatformStripe, NotificationID: id, NotificationType: "invoice.paid", Payload: `{}`,
		}); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}

	list, err := repos.Notification.ListByApp(ctx, app.ID, 2)
	if err != nil {
		t.Fatalf("ListByApp() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListByApp(limit 2) = %d, want 2", len(list))
	}
}
