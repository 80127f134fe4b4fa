package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InterestFlagKey is the key the sent bit is stored under for a listing.
func InterestFlagKey(listingURI string) string {
	return "interest-sent-" + listingURI
}

// InterestFlag is one persisted interest-sent bit.
type InterestFlag struct {
	BuyerDID   string    `json:"buyerDid"`
	ListingURI string    `json:"listingUri"`
	SellerDID  string    `json:"sellerDid,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// MarkInterestSent records that buyerDID already introduced themselves on
// listingURI. Marking twice keeps the first timestamp.
func (s *Store) MarkInterestSent(ctx context.Context, flag InterestFlag) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(flag.ListingURI) == "" {
		return errors.New("listing uri is required")
	}
	if flag.SentAt.IsZero() {
		flag.SentAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO interest_flags (flag_key, buyer_did, listing_uri, seller_did, sent_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(flag_key, buyer_did) DO NOTHING
	`, InterestFlagKey(flag.ListingURI), flag.BuyerDID, flag.ListingURI, flag.SellerDID, flag.SentAt.Unix())
	if err != nil {
		return fmt.Errorf("mark interest sent: %w", err)
	}
	return nil
}

// InterestSent reports whether the flag exists for buyerDID and listingURI.
func (s *Store) InterestSent(ctx context.Context, buyerDID, listingURI string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}

	var one int
	err := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM interest_flags WHERE flag_key = ? AND buyer_did = ?
	`, InterestFlagKey(listingURI), buyerDID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch interest flag: %w", err)
	}
	return true, nil
}

// ClearInterest deletes the flag, allowing the buyer to introduce again.
func (s *Store) ClearInterest(ctx context.Context, buyerDID, listingURI string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM interest_flags WHERE flag_key = ? AND buyer_did = ?
	`, InterestFlagKey(listingURI), buyerDID)
	if err != nil {
		return false, fmt.Errorf("clear interest flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear interest flag: %w", err)
	}
	return n > 0, nil
}

// ListInterest returns the buyer's flags, newest first. An empty buyerDID lists all.
func (s *Store) ListInterest(ctx context.Context, buyerDID string) ([]InterestFlag, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	query := `SELECT buyer_did, listing_uri, seller_did, sent_at FROM interest_flags`
	args := []any{}
	if strings.TrimSpace(buyerDID) != "" {
		query += ` WHERE buyer_did = ?`
		args = append(args, buyerDID)
	}
	query += ` ORDER BY sent_at DESC, listing_uri`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interest flags: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var flags []InterestFlag
	for rows.Next() {
		var (
			flag   InterestFlag
			seller sql.NullString
			sentAt int64
		)
		if err := rows.Scan(&flag.BuyerDID, &flag.ListingURI, &seller, &sentAt); err != nil {
			return nil, fmt.Errorf("scan interest flag: %w", err)
		}
		flag.SellerDID = seller.String
		flag.SentAt = time.Unix(sentAt, 0).UTC()
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interest flags: %w", err)
	}
	return flags, nil
}
