package registry

import (
	"fmt"

	"github.com/zeusync/tachyon/internal/core/models"
)

// SocketEntities maps socket IDs to the entities representing connected sockets.
// A socket ID appears at most once.
type SocketEntities struct {
	entities *SyncMap[models.SocketID, *models.ViewedSocketEntity]
}

func NewSocketEntities() *SocketEntities {
	return &SocketEntities{
		entities: NewSyncMap[models.SocketID, *models.ViewedSocketEntity](),
	}
}

// Get returns the socket entity for socketID or ErrNotFound.
func (s *SocketEntities) Get(socketID models.SocketID) (*models.ViewedSocketEntity, error) {
	entity, ok := s.entities.Get(socketID)
	if !ok {
		return nil, fmt.Errorf("%w: socket entity with socket ID %d", ErrNotFound, socketID)
	}
	return entity, nil
}

// Has reports whether socketID is registered.
func (s *SocketEntities) Has(socketID models.SocketID) bool {
	_, ok := s.entities.Get(socketID)
	return ok
}

// Add registers entity under socketID. It fails with ErrAlreadyExists if the ID is taken.
func (s *SocketEntities) Add(socketID models.SocketID, entity *models.ViewedSocketEntity) error {
	if !s.entities.Insert(socketID, entity) {
		return fmt.Errorf("%w: socket entity with socket ID %d", ErrAlreadyExists, socketID)
	}
	return nil
}

// Remove unregisters socketID. It fails with ErrNotFound if the ID is not registered.
func (s *SocketEntities) Remove(socketID models.SocketID) error {
	if !s.entities.Delete(socketID) {
		return fmt.Errorf("%w: socket entity with socket ID %d", ErrNotFound, socketID)
	}
	return nil
}

func (s *SocketEntities) Len() int {
	return s.entities.Len()
}

// Range iterates over a snapshot of the registered socket entities.
func (s *SocketEntities) Range(f func(socketID models.SocketID, entity *models.ViewedSocketEntity) bool) {
	s.entities.Range(f)
}
