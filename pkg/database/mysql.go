package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

// ErrNotFound is returned when a row does not exist. Callers match on this
// instead of the gorm sentinel so they never import gorm themselves.
var ErrNotFound = errors.New("database: record not found")

type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.RoomRecord{},
	)
}

func wrapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// User operations

// UpsertUser creates the user on first login and refreshes the profile
// fields on every later one. The role survives updates.
func (db *MySQLDB) UpsertUser(user *models.User) error {
	var existing models.User
	err := db.First(&existing, "id = ?", user.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if user.Role == "" {
			user.Role = models.RoleUser
		}
		return db.Create(user).Error
	}
	if err != nil {
		return err
	}
	existing.Email = user.Email
	existing.Name = user.Name
	existing.Picture = user.Picture
	user.Role = existing.Role
	user.CreatedAt = existing.CreatedAt
	return db.Save(&existing).Error
}

func (db *MySQLDB) GetUserByID(id string) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &user, nil
}

// Session operations

func (db *MySQLDB) CreateSession(session *models.Session) error {
	return db.Create(session).Error
}

func (db *MySQLDB) GetSession(token string) (*models.Session, error) {
	var session models.Session
	if err := db.First(&session, "token = ?", token).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &session, nil
}

func (db *MySQLDB) DeleteSession(token string) error {
	return db.Delete(&models.Session{}, "token = ?", token).Error
}

// Room registry operations

func (db *MySQLDB) CreateRoom(room *models.RoomRecord) error {
	return db.Create(room).Error
}

func (db *MySQLDB) GetRoomByID(id string) (*models.RoomRecord, error) {
	var room models.RoomRecord
	if err := db.First(&room, "id = ?", strings.ToLower(id)).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &room, nil
}

func (db *MySQLDB) ListRooms(public bool) ([]*models.RoomRecord, error) {
	var rooms []*models.RoomRecord
	if err := db.Where("is_public = ?", public).
		Order("last_active_at DESC").
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (db *MySQLDB) ListRoomsByOwner(ownerID string) ([]*models.RoomRecord, error) {
	var rooms []*models.RoomRecord
	if err := db.Where("owner_id = ?", ownerID).
		Order("last_active_at DESC").
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (db *MySQLDB) DeleteRoom(id string) error {
	return db.Delete(&models.RoomRecord{}, "id = ?", id).Error
}

// TouchRoom bumps the registry activity timestamp; the room actor calls it
// off its serialized loop.
func (db *MySQLDB) TouchRoom(id string, at time.Time) error {
	return db.Model(&models.RoomRecord{}).Where("id = ?", id).
		Update("last_active_at", at).Error
}

// DeleteAccount cascades in a single transaction: every room owned by the
// user, every session, then the user row. A failure anywhere rolls the
// whole thing back so a half-erased account can never exist.
func (db *MySQLDB) DeleteAccount(userID string) ([]string, error) {
	var roomIDs []string
	err := db.Transaction(func(tx *gorm.DB) error {
		var rooms []*models.RoomRecord
		if err := tx.Where("owner_id = ?", userID).Find(&rooms).Error; err != nil {
			return fmt.Errorf("failed to load owned rooms: %w", err)
		}
		for _, r := range rooms {
			if err := tx.Delete(&models.RoomRecord{}, "id = ?", r.ID).Error; err != nil {
				return fmt.Errorf("failed to delete room %s: %w", r.ID, err)
			}
			roomIDs = append(roomIDs, r.ID)
		}
		if err := tx.Delete(&models.Session{}, "user_id = ?", userID).Error; err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		if err := tx.Delete(&models.User{}, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roomIDs, nil
}
