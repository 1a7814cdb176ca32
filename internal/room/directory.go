package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/loewenmaehne/revibe-music-sub000/pkg/database"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/events"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

const maxRoomNameLen = 64

// Store is the registry persistence the directory needs; satisfied by
// *database.MySQLDB.
type Store interface {
	CreateRoom(room *models.RoomRecord) error
	GetRoomByID(id string) (*models.RoomRecord, error)
	ListRooms(public bool) ([]*models.RoomRecord, error)
	ListRoomsByOwner(ownerID string) ([]*models.RoomRecord, error)
	DeleteRoom(id string) error
	TouchRoom(id string, at time.Time) error
	GetUserByID(id string) (*models.User, error)
}

// Cache fronts the registry for lookups. May be nil.
type Cache interface {
	StoreRoom(ctx context.Context, room *models.RoomRecord) error
	GetRoom(ctx context.Context, id string) (*models.RoomRecord, error)
	DeleteRoom(ctx context.Context, id string) error
}

// RoomSummary is the listing shape. Passwords never leave the registry.
type RoomSummary struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	IsPublic          bool   `json:"isPublic"`
	PasswordProtected bool   `json:"passwordProtected"`
	Listeners         int    `json:"listeners"`
}

// Directory maps room ids to live actors and owns their lifecycle. Reads
// run concurrently; create and delete serialize on the mutex, separate
// from any individual room's inbox.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store    Store
	cache    Cache
	events   events.Publisher
	resolver Resolver
}

func NewDirectory(store Store, cache Cache, publisher events.Publisher, resolver Resolver) *Directory {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Directory{
		rooms:    make(map[string]*Room),
		store:    store,
		cache:    cache,
		events:   publisher,
		resolver: resolver,
	}
}

// Create registers a new room and spins up its actor. The identifier is
// derived from the name plus a random disambiguator and is unique
// case-insensitively; identifiers are never reused after deletion.
func (d *Directory) Create(ctx context.Context, name, ownerID string, isPublic bool, password string) (*RoomSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if len(name) > maxRoomNameLen {
		return nil, ErrNameTooLong
	}

	passwordHash := ""
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		passwordHash = string(hash)
	}

	rec := &models.RoomRecord{
		ID:           roomID(name),
		Name:         name,
		OwnerID:      ownerID,
		IsPublic:     isPublic,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.CreateRoom(rec); err != nil {
		return nil, fmt.Errorf("persist room: %w", err)
	}
	if d.cache != nil {
		if err := d.cache.StoreRoom(ctx, rec); err != nil {
			log.Warn().Err(err).Str("room", rec.ID).Msg("room cache store failed")
		}
	}
	r := NewRoom(rec, Deps{Resolver: d.resolver, Store: d.store, Events: d.events})
	d.rooms[rec.ID] = r

	d.publishRoomEvent(events.EventTypeRoomCreated, rec)
	return d.summary(rec, r), nil
}

// Lookup returns the live actor for an id, reviving it from the registry
// if the process restarted since the room was created.
func (d *Directory) Lookup(ctx context.Context, id string) (*Room, error) {
	id = strings.ToLower(strings.TrimSpace(id))

	d.mu.RLock()
	r := d.rooms[id]
	d.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	rec, err := d.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.rooms[id]; r != nil {
		return r, nil
	}
	r = NewRoom(rec, Deps{Resolver: d.resolver, Store: d.store, Events: d.events})
	d.rooms[id] = r
	return r, nil
}

func (d *Directory) loadRecord(ctx context.Context, id string) (*models.RoomRecord, error) {
	if d.cache != nil {
		if rec, err := d.cache.GetRoom(ctx, id); err == nil {
			return rec, nil
		}
	}
	rec, err := d.store.GetRoomByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	if d.cache != nil {
		if err := d.cache.StoreRoom(ctx, rec); err != nil {
			log.Warn().Err(err).Str("room", id).Msg("room cache store failed")
		}
	}
	return rec, nil
}

// ListFilter selects which registry rows a listing returns.
type ListFilter struct {
	Public  bool
	OwnedBy string
}

// List reads the registry and decorates each row with the live listener
// count. Password hashes never appear in summaries.
func (d *Directory) List(filter ListFilter) ([]*RoomSummary, error) {
	var (
		recs []*models.RoomRecord
		err  error
	)
	if filter.OwnedBy != "" {
		recs, err = d.store.ListRoomsByOwner(filter.OwnedBy)
	} else {
		recs, err = d.store.ListRooms(filter.Public)
	}
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*RoomSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, d.summary(rec, d.rooms[rec.ID]))
	}
	return out, nil
}

func (d *Directory) summary(rec *models.RoomRecord, r *Room) *RoomSummary {
	listeners := 0
	if r != nil {
		listeners = r.Listeners()
	}
	return &RoomSummary{
		ID:                rec.ID,
		Name:              rec.Name,
		IsPublic:          rec.IsPublic,
		PasswordProtected: rec.PasswordProtected(),
		Listeners:         listeners,
	}
}

// Delete tears the room down: only the owner or an admin may do it. All
// attached connections are evicted back to "no room".
func (d *Directory) Delete(ctx context.Context, id, requestingUserID string) error {
	id = strings.ToLower(strings.TrimSpace(id))

	rec, err := d.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.OwnerID != requestingUserID && !d.isAdmin(requestingUserID) {
		return ErrForbidden
	}

	d.mu.Lock()
	r := d.rooms[id]
	delete(d.rooms, id)
	if err := d.store.DeleteRoom(id); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("delete room: %w", err)
	}
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.DeleteRoom(ctx, id); err != nil {
			log.Warn().Err(err).Str("room", id).Msg("room cache delete failed")
		}
	}
	if r != nil {
		r.Close()
	}
	d.publishRoomEvent(events.EventTypeRoomDeleted, rec)
	return nil
}

// CloseRooms tears down already-deleted rooms, e.g. after an account
// erasure removed their registry rows in one transaction.
func (d *Directory) CloseRooms(ctx context.Context, ids []string) {
	for _, id := range ids {
		d.mu.Lock()
		r := d.rooms[id]
		delete(d.rooms, id)
		d.mu.Unlock()
		if d.cache != nil {
			_ = d.cache.DeleteRoom(ctx, id)
		}
		if r != nil {
			r.Close()
		}
	}
}

// CloseAll stops every live actor; used on shutdown.
func (d *Directory) CloseAll() {
	d.mu.Lock()
	rooms := d.rooms
	d.rooms = make(map[string]*Room)
	d.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}

func (d *Directory) isAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	user, err := d.store.GetUserByID(userID)
	if err != nil {
		return false
	}
	return user.Role == models.RoleAdmin
}

func (d *Directory) publishRoomEvent(typ events.EventType, rec *models.RoomRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload := fmt.Sprintf(`{"name":%q,"is_public":%v}`, rec.Name, rec.IsPublic)
		err := d.events.Publish(ctx, events.Event{
			Type:    typ,
			RoomID:  rec.ID,
			UserID:  rec.OwnerID,
			Payload: []byte(payload),
		})
		if err != nil {
			log.Warn().Err(err).Str("room", rec.ID).Msg("event publish failed")
		}
	}()
}

// roomID turns a display name into a URL-safe identifier with a random
// disambiguator, e.g. "Friday Vibes" -> "friday-vibes-1a2b3c".
func roomID(name string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, name)
	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}

func checkPasswordHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
