package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/holee9/plm-system-web-sub001/internal/middleware"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
)

const (
	TestSchema = "test_plm"
	JWTSecret  = "plm-core-jwt-secret-key-2024"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "plm")
	password := getEnv("DB_PASSWORD", "plm123")
	dbname := getEnv("DB_NAME", "plm_core")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
		&entity.User{},
		&entity.Project{},
		&entity.Part{},
		&entity.PartRevision{},
		&entity.BOMItem{},
		&entity.ChangeOrder{},
		&entity.ChangeOrderApprover{},
		&entity.ChangeOrderAffectedPart{},
		&entity.ChangeOrderAudit{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupTestRedis returns a redis client on a dedicated test DB.
// Service-level cache calls degrade gracefully when redis is unreachable,
// so tests still pass without a running redis.
func SetupTestRedis() *redis.Client {
	loadEnv()
	host := getEnv("REDIS_HOST", "127.0.0.1")
	port := getEnv("REDIS_PORT", "6379")
	return redis.NewClient(&redis.Options{
		Addr: host + ":" + port,
		DB:   15,
	})
}

// SetupRouter creates a gin test router with JWT middleware
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"perms": permissions,
		"iss":   "plm-core",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken(
		"test-user-001",
		"Test Admin",
		"admin@test.com",
		[]string{"plm_admin"},
		[]string{"*"},
	)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedTestUser creates a test user in the database
func SeedTestUser(t *testing.T, db *gorm.DB, id, name, email string) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:        id,
		Username:  "user_" + id,
		Name:      name,
		Email:     email,
		Status:    entity.UserStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed test user: %v", err)
	}
	return user
}

// SeedTestProject creates a test project in the database
func SeedTestProject(t *testing.T, db *gorm.DB, id, code, name, createdBy string) *entity.Project {
	t.Helper()
	project := &entity.Project{
		ID:        id,
		Code:      code,
		Name:      name,
		Status:    entity.ProjectStatusActive,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to seed test project: %v", err)
	}
	return project
}

// SeedTestPart creates a test part with an initial "A" revision
func SeedTestPart(t *testing.T, db *gorm.DB, id, projectID, partNumber, name, createdBy string) *entity.Part {
	t.Helper()
	now := time.Now()
	part := &entity.Part{
		ID:         id,
		ProjectID:  projectID,
		PartNumber: partNumber,
		Name:       name,
		Status:     entity.PartStatusDraft,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(part).Error; err != nil {
		t.Fatalf("Failed to seed test part: %v", err)
	}
	rev := &entity.PartRevision{
		ID:           id + "-rev-a",
		PartID:       id,
		RevisionCode: "A",
		Description:  "Initial revision",
		CreatedBy:    createdBy,
		CreatedAt:    now,
	}
	if err := db.Create(rev).Error; err != nil {
		t.Fatalf("Failed to seed initial revision: %v", err)
	}
	return part
}

// SeedBOMItem creates a BOM edge between two existing parts
func SeedBOMItem(t *testing.T, db *gorm.DB, id, projectID, parentID, childID, quantity string, position int, createdBy string) *entity.BOMItem {
	t.Helper()
	now := time.Now()
	item := &entity.BOMItem{
		ID:        id,
		ProjectID: projectID,
		ParentID:  parentID,
		ChildID:   childID,
		Quantity:  quantity,
		Unit:      "EA",
		Position:  position,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed BOM item: %v", err)
	}
	return item
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
