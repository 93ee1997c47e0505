package main

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvtor/internal/auth"
	"cvtor/internal/database"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreateAdminOnce(t *testing.T) {
	db := openTestDB(t)

	password, created, err := createAdmin(db, "root@cvtor.com")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if !created || password == "" {
		t.Fatalf("expected a new admin with a password, got created=%v", created)
	}

	var user database.User
	if err := db.Where("email = ?", "root@cvtor.com").First(&user).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if !user.IsAdmin || !user.IsActive {
		t.Fatalf("expected active admin, got %+v", user)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		t.Fatal("printed password does not match stored hash")
	}

	_, created, err = createAdmin(db, "root@cvtor.com")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("existing admin must not be recreated")
	}
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 2; i++ {
		if err := seedCatalog(db); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}

	var categories, templates int64
	db.Model(&database.Category{}).Count(&categories)
	db.Model(&database.Template{}).Count(&templates)
	if categories != int64(len(seedCategories)) {
		t.Fatalf("expected %d categories, got %d", len(seedCategories), categories)
	}
	if templates != int64(len(seedTemplates)) {
		t.Fatalf("expected %d templates, got %d", len(seedTemplates), templates)
	}

	var tokyo database.Template
	if err := db.Preload("Category").Where("slug = ?", "tokyo").First(&tokyo).Error; err != nil {
		t.Fatalf("load tokyo: %v", err)
	}
	if tokyo.Category == nil || tokyo.Category.Slug != "minimaliste" {
		t.Fatalf("tokyo should belong to minimaliste, got %+v", tokyo.Category)
	}
}

func TestLoadDatabaseConfigRequiresName(t *testing.T) {
	for _, key := range []string{"POSTGRES_DB", "DATABASE_HOST", "DATABASE_PORT", "DATABASE_SSLMODE"} {
		t.Setenv(key, "")
	}
	if _, err := loadDatabaseConfig("", 0, "", "u", "p", ""); err == nil {
		t.Fatal("expected missing name error")
	}
	cfg, err := loadDatabaseConfig("", 0, "cv", "u", "p", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 5432 || cfg.SSLMode != "disable" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
