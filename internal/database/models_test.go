package database

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openForeignKeyDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var enabled int
	if err := db.Raw("PRAGMA foreign_keys").Scan(&enabled).Error; err != nil || enabled != 1 {
		t.Fatalf("foreign keys not enforced: %d %v", enabled, err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestDeletingUserRemovesResumes(t *testing.T) {
	db := openForeignKeyDB(t)

	owner := User{Email: "owner@example.com", PasswordHash: "x", SubscriptionPlan: PlanFree}
	other := User{Email: "other@example.com", PasswordHash: "x", SubscriptionPlan: PlanFree}
	for _, u := range []*User{&owner, &other} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	for i, userID := range []uint{owner.ID, owner.ID, other.ID} {
		resume := Resume{UserID: userID, Title: fmt.Sprintf("CV %d", i), TemplateName: "moderne", Data: datatypes.JSON(`{}`)}
		if err := db.Create(&resume).Error; err != nil {
			t.Fatalf("create resume: %v", err)
		}
	}

	if err := db.Unscoped().Delete(&owner).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}

	var left int64
	if err := db.Unscoped().Model(&Resume{}).Where("user_id = ?", owner.ID).Count(&left).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Fatalf("expected owner's resumes to be removed, %d left", left)
	}

	var kept int64
	db.Model(&Resume{}).Where("user_id = ?", other.ID).Count(&kept)
	if kept != 1 {
		t.Fatalf("other user's resume must survive, got %d", kept)
	}
}

func TestResumeRequiresExistingUser(t *testing.T) {
	db := openForeignKeyDB(t)

	orphan := Resume{UserID: 999, Title: "CV", TemplateName: "moderne", Data: datatypes.JSON(`{}`)}
	if err := db.Create(&orphan).Error; err == nil {
		t.Fatal("expected foreign key violation for unknown user")
	}
}
