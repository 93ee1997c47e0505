package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvtor/internal/database"
	"cvtor/internal/render"
	"cvtor/internal/storage"
	"cvtor/internal/tasks"
)

type fakeSnapshot struct {
	html string
	err  error
}

func (f *fakeSnapshot) Capture(_ context.Context, html string, _ int) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg-bytes"), nil
}

type fakeStore struct {
	objects map[string][]byte
}

func (f *fakeStore) PutThumbnail(_ context.Context, templateID uint, image []byte) (string, error) {
	key := storage.ThumbnailKey(templateID)
	f.objects[key] = image
	return key, nil
}

func (f *fakeStore) PresignThumbnail(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + objectKey, nil
}

type recordedNotify struct {
	userID  uint
	message ThumbnailNotifyMessage
}

type fakeNotifier struct {
	sent []recordedNotify
}

func (f *fakeNotifier) Notify(_ context.Context, userID uint, message any) error {
	f.sent = append(f.sent, recordedNotify{userID: userID, message: message.(ThumbnailNotifyMessage)})
	return nil
}

func setup(t *testing.T) (*gorm.DB, *render.Renderer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	root := t.TempDir()
	dir := filepath.Join(root, "classique")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		render.MarkupFile:     `<h1>{{ .data.profile.name }}</h1>`,
		render.StylesheetFile: `h1 { color: navy; }`,
		render.MetadataFile:   `{"templateName": "Classique"}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return db, render.NewRenderer(render.NewStore(root))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThumbnailHandlerStoresPreview(t *testing.T) {
	db, renderer := setup(t)
	tpl := database.Template{Title: "Classique", Slug: "classique", IsActive: true}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}

	snap := &fakeSnapshot{}
	store := &fakeStore{objects: map[string][]byte{}}
	notifier := &fakeNotifier{}
	h := NewThumbnailHandler(db, renderer, snap, store, notifier, quietLogger())

	task, _ := tasks.NewTemplateThumbnailTask(tpl.ID, 9, "corr-9")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if !strings.Contains(snap.html, "Awa Mensah") {
		t.Fatalf("expected sample data in snapshot html, got %q", snap.html)
	}
	key := fmt.Sprintf("thumbnails/template/%d/preview.jpg", tpl.ID)
	if string(store.objects[key]) != "jpeg-bytes" {
		t.Fatalf("thumbnail not uploaded under %s", key)
	}

	var stored database.Template
	db.First(&stored, tpl.ID)
	if stored.ThumbnailURL != "https://cdn.test/"+key {
		t.Fatalf("thumbnail url not stored: %q", stored.ThumbnailURL)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	got := notifier.sent[0]
	if got.userID != 9 || got.message.Status != NotifyStatusCompleted || got.message.CorrelationID != "corr-9" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestThumbnailHandlerSkipsMissingTemplate(t *testing.T) {
	db, renderer := setup(t)
	h := NewThumbnailHandler(db, renderer, &fakeSnapshot{}, &fakeStore{objects: map[string][]byte{}}, nil, quietLogger())

	task, _ := tasks.NewTemplateThumbnailTask(404, 0, "")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
}

func TestThumbnailHandlerMissingBundleNotifiesFailure(t *testing.T) {
	db, renderer := setup(t)
	tpl := database.Template{Title: "Ghost", Slug: "ghost"}
	db.Create(&tpl)
	notifier := &fakeNotifier{}
	h := NewThumbnailHandler(db, renderer, &fakeSnapshot{}, &fakeStore{objects: map[string][]byte{}}, notifier, quietLogger())

	task, _ := tasks.NewTemplateThumbnailTask(tpl.ID, 2, "c")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("missing bundle must not be retried: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].message.Status != NotifyStatusFailed {
		t.Fatalf("expected failure notification, got %+v", notifier.sent)
	}
}

func TestThumbnailHandlerReturnsCaptureError(t *testing.T) {
	db, renderer := setup(t)
	tpl := database.Template{Title: "Classique", Slug: "classique"}
	db.Create(&tpl)
	h := NewThumbnailHandler(db, renderer, &fakeSnapshot{err: errors.New("chromium crashed")}, &fakeStore{objects: map[string][]byte{}}, nil, quietLogger())

	task, _ := tasks.NewTemplateThumbnailTask(tpl.ID, 0, "")
	if err := h.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected capture error to be returned for retry")
	}
}

func TestNotifyChannel(t *testing.T) {
	if NotifyChannel(5) != "user_notify:5" {
		t.Fatalf("unexpected channel %q", NotifyChannel(5))
	}
}
