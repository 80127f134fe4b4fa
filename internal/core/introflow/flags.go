package introflow

import (
	"context"
	"sync"

	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/store"
)

// StoreFlags keeps sent flags in the local libsql store.
type StoreFlags struct {
	Store *store.Store
}

func (f *StoreFlags) IsSent(ctx context.Context, buyerDID, listingURI string) (bool, error) {
	return f.Store.InterestSent(ctx, buyerDID, listingURI)
}

func (f *StoreFlags) MarkSent(ctx context.Context, buyerDID string, listing core.Listing) error {
	return f.Store.MarkInterestSent(ctx, store.InterestFlag{
		BuyerDID:   buyerDID,
		ListingURI: listing.URI,
		SellerDID:  listing.SellerDID,
	})
}

// MemoryFlags keeps sent flags for the life of the process.
type MemoryFlags struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{sent: make(map[string]struct{})}
}

func (f *MemoryFlags) IsSent(_ context.Context, buyerDID, listingURI string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[buyerDID+"|"+store.InterestFlagKey(listingURI)]
	return ok, nil
}

func (f *MemoryFlags) MarkSent(_ context.Context, buyerDID string, listing core.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[buyerDID+"|"+store.InterestFlagKey(listing.URI)] = struct{}{}
	return nil
}
