package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvtor/internal/auth"
	"cvtor/internal/config"
	"cvtor/internal/database"
)

const defaultAdminEmail = "admin@cvtor.com"

type seedCategory struct {
	Name        string
	Slug        string
	Description string
}

type seedTemplate struct {
	Title        string
	Slug         string
	Description  string
	CategorySlug string
}

var seedCategories = []seedCategory{
	{Name: "Professionnel", Slug: "professionnel", Description: "Sober layouts for corporate applications"},
	{Name: "Créatif", Slug: "creatif", Description: "Colourful layouts for design and media profiles"},
	{Name: "Minimaliste", Slug: "minimaliste", Description: "Clean single-column layouts"},
	{Name: "Traditionnel", Slug: "traditionnel", Description: "Classic two-column layouts"},
}

var seedTemplates = []seedTemplate{
	{Title: "Classique", Slug: "classique", Description: "Timeless serif layout", CategorySlug: "traditionnel"},
	{Title: "Moderne", Slug: "moderne", Description: "Sidebar layout with accent colour", CategorySlug: "creatif"},
	{Title: "Professional", Slug: "professional", Description: "Compact layout for experienced profiles", CategorySlug: "professionnel"},
	{Title: "Tokyo", Slug: "tokyo", Description: "Minimal layout with generous spacing", CategorySlug: "minimaliste"},
}

func main() {
	var (
		email   = flag.String("email", "", "email of the admin account to create")
		seed    = flag.Bool("seed", false, "seed the default admin, categories and templates")
		dbHost  = flag.String("db-host", "", "database host (defaults to DATABASE_HOST)")
		dbPort  = flag.Int("db-port", 0, "database port (defaults to DATABASE_PORT)")
		dbName  = flag.String("db-name", "", "database name (defaults to POSTGRES_DB)")
		dbUser  = flag.String("db-user", "", "database user (defaults to POSTGRES_USER)")
		dbPass  = flag.String("db-password", "", "database password (defaults to POSTGRES_PASSWORD)")
		sslMode = flag.String("db-sslmode", "", "database sslmode (defaults to DATABASE_SSLMODE)")
	)
	flag.Parse()

	target := strings.ToLower(strings.TrimSpace(*email))
	if target == "" && !*seed {
		log.Fatal("nothing to do: pass --email or --seed")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg, nil)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	if *seed {
		if err := seedCatalog(db); err != nil {
			log.Fatalf("seed catalog: %v", err)
		}
		fmt.Printf("seeded %d categories and %d templates\n", len(seedCategories), len(seedTemplates))
		if target == "" {
			target = defaultAdminEmail
		}
	}

	if target == "" {
		return
	}

	password, created, err := createAdmin(db, target)
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}
	if !created {
		fmt.Printf("admin %s already exists, left unchanged\n", target)
		return
	}

	fmt.Printf("created admin account:\n")
	fmt.Printf("email: %s\n", target)
	fmt.Printf("password: %s\n", password)
	fmt.Printf("this password is shown only once.\n")
}

// createAdmin inserts an active admin with a random password. An existing
// account with the same email is left untouched and reported as not created.
func createAdmin(db *gorm.DB, email string) (string, bool, error) {
	var existing database.User
	switch err := db.Where("email = ?", email).First(&existing).Error; {
	case err == nil:
		return "", false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return "", false, fmt.Errorf("query user: %w", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		return "", false, err
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return "", false, fmt.Errorf("hash password: %w", err)
	}

	user := database.User{
		Email:            email,
		PasswordHash:     hashed,
		FullName:         "Administrator",
		IsActive:         true,
		IsAdmin:          true,
		SubscriptionPlan: database.PlanPremium,
	}
	if err := db.Create(&user).Error; err != nil {
		return "", false, fmt.Errorf("create user: %w", err)
	}
	return password, true, nil
}

func seedCatalog(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]uint, len(seedCategories))
		for _, c := range seedCategories {
			category := database.Category{Name: c.Name, Slug: c.Slug, Description: c.Description}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&category).Error; err != nil {
				return fmt.Errorf("insert category %s: %w", c.Slug, err)
			}
			if err := tx.Where("slug = ?", c.Slug).First(&category).Error; err != nil {
				return fmt.Errorf("load category %s: %w", c.Slug, err)
			}
			ids[c.Slug] = category.ID
		}

		for _, t := range seedTemplates {
			categoryID := ids[t.CategorySlug]
			template := database.Template{
				Title:       t.Title,
				Slug:        t.Slug,
				Description: t.Description,
				IsActive:    true,
				CategoryID:  &categoryID,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&template).Error; err != nil {
				return fmt.Errorf("insert template %s: %w", t.Slug, err)
			}
		}
		return nil
	})
}

// loadDatabaseConfig fills every field from its flag, then the API's environment variable,
// then a local default. Name, user and password have no default.
func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	cfg := config.DatabaseConfig{
		Host:     firstNonEmpty(host, os.Getenv("DATABASE_HOST"), "localhost"),
		Name:     firstNonEmpty(name, os.Getenv("POSTGRES_DB")),
		User:     firstNonEmpty(user, os.Getenv("POSTGRES_USER")),
		Password: firstNonEmpty(password, os.Getenv("POSTGRES_PASSWORD")),
		SSLMode:  firstNonEmpty(sslmode, os.Getenv("DATABASE_SSLMODE"), "disable"),
		Port:     port,
	}

	if cfg.Port <= 0 {
		cfg.Port = 5432
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			cfg.Port = p
		}
	}

	for _, required := range []struct{ value, env string }{
		{cfg.Name, "POSTGRES_DB"},
		{cfg.User, "POSTGRES_USER"},
		{cfg.Password, "POSTGRES_PASSWORD"},
	} {
		if required.value == "" {
			return config.DatabaseConfig{}, fmt.Errorf("%s or its flag is required", required.env)
		}
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
