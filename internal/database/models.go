package database

import (
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"wohnung-hunter/internal/search"
)

type User struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	TelegramID int64     `json:"telegram_id" gorm:"uniqueIndex;not null"`
	Username   string    `json:"username" gorm:"size:50"`
	FirstName  string    `json:"first_name" gorm:"size:100"`
	CreatedAt  time.Time `json:"created_at"`

	Filters []UserFilter `json:"filters" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// UserFilter is a saved apartment search. Zero bounds and empty lists mean
// "no restriction"; Sites and Markers are stored comma separated.
type UserFilter struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	User      User      `json:"-" gorm:"foreignKey:UserID"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Sites     string    `json:"sites" gorm:"size:500"`
	Markers   string    `json:"markers" gorm:"size:500"`
	MinPrice  float64   `json:"min_price" gorm:"default:0"`
	MaxPrice  float64   `json:"max_price" gorm:"default:0"`
	MinRooms  float64   `json:"min_rooms" gorm:"default:0"`
	Location  string    `json:"location" gorm:"size:100"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
}

func (f *UserFilter) SiteList() []string {
	return SplitList(f.Sites)
}

func (f *UserFilter) MarkerList() []string {
	return SplitList(f.Markers)
}

// Query turns the filter into a search over active apartments.
func (f *UserFilter) Query() search.Query {
	q := search.NewQuery()
	q.Sites = f.SiteList()
	q.Markers = f.MarkerList()
	q.LocationContains = f.Location
	if f.MinPrice > 0 {
		v := f.MinPrice
		q.PriceMin = &v
	}
	if f.MaxPrice > 0 {
		v := f.MaxPrice
		q.PriceMax = &v
	}
	if f.MinRooms > 0 {
		v := f.MinRooms
		q.RoomsMin = &v
	}
	return q
}

// WantsSite reports whether the filter covers apartments of site.
func (f *UserFilter) WantsSite(site string) bool {
	sites := f.SiteList()
	if len(sites) == 0 {
		return true
	}
	for _, s := range sites {
		if s == site {
			return true
		}
	}
	return false
}

// SplitList parses "a, b,,c" into [a b c].
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

type DB struct {
	*gorm.DB
}

func Connect(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	return db.AutoMigrate(&User{}, &UserFilter{})
}
