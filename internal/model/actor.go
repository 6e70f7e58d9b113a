package model

import "github.com/google/uuid"

type Role string

const (
	RoleOwner   Role = "owner"
	RoleVisitor Role = "visitor"
)

// Actor аутентифицированный участник запроса; аутентификация выполняется снаружи
type Actor struct {
	Ref         string      `json:"ref"`
	Role        Role        `json:"role"`
	PropertyIDs []uuid.UUID `json:"property_ids"` // объекты, которыми владеет актор
}

// Owns сообщает, является ли актор владельцем объекта
func (a Actor) Owns(propertyID uuid.UUID) bool {
	if a.Role != RoleOwner {
		return false
	}
	for _, id := range a.PropertyIDs {
		if id == propertyID {
			return true
		}
	}
	return false
}

// CanAccess владелец объекта или посетитель, создавший бронирование
func (a Actor) CanAccess(b *Booking) bool {
	return a.Owns(b.PropertyID) || (a.Ref != "" && a.Ref == b.VisitorRef)
}
