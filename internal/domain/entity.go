// Package domain contains core domain types for the chatdesk bot.
package domain

import (
	"strings"
	"time"
)

// Entity is a subject record in the document store (a client, a project)
// that orders, schedule entries and accounting entries hang off.
type Entity struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the lightweight reference used in sessions and caches.
func (e Entity) Ref() EntityRef {
	return EntityRef{ID: e.ID, Name: e.Title}
}

// EntityRef is an (id, display name) pair.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsZero reports whether the reference points at nothing.
func (r EntityRef) IsZero() bool {
	return r.ID == ""
}

// Category is the closed set of order categories.
type Category string

const (
	CategoryNone     Category = ""
	CategoryCustom   Category = "custom"
	CategoryStandard Category = "standard"
	CategoryUrgent   Category = "urgent"
	CategoryPackage  Category = "package"
)

// Categories lists every valid category in menu order.
var Categories = []Category{CategoryCustom, CategoryStandard, CategoryUrgent, CategoryPackage}

// ParseCategory returns the category named by s, or false.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return CategoryNone, false
}

// Label returns a human readable category name.
func (c Category) Label() string {
	switch c {
	case CategoryCustom:
		return "Custom"
	case CategoryStandard:
		return "Standard"
	case CategoryUrgent:
		return "Urgent"
	case CategoryPackage:
		return "Full package"
	default:
		return "Uncategorized"
	}
}
