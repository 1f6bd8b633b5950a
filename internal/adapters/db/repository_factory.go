package db

import (
	"gavel-auction-service/internal/ports/outbound"
)

// RepositoryFactory creates and manages all database repositories
type RepositoryFactory struct {
	conn *Connection
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(conn *Connection) *RepositoryFactory {
	return &RepositoryFactory{conn: conn}
}

// GetAuctionRepository returns the auction repository
func (f *RepositoryFactory) GetAuctionRepository() outbound.AuctionRepository {
	return NewAuctionRepository(f.conn)
}

// GetBidRepository returns the bid repository
func (f *RepositoryFactory) GetBidRepository() outbound.BidRepository {
	return NewBidRepository(f.conn)
}

// GetUserRepository returns the user repository
func (f *RepositoryFactory) GetUserRepository() outbound.UserRepository {
	return NewUserRepository(f.conn)
}

// GetStore returns the versioned store used by the bidding engines
func (f *RepositoryFactory) GetStore() outbound.Store {
	return NewStore(f.conn)
}
