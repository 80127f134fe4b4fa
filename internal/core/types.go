package core

import (
	"fmt"
	"strings"
)

// BotHandle is the default relay account buyers are asked to follow.
const BotHandle = "at-marketplace-bot.bsky.social"

// InterestRequest is the body of POST /notify.
type InterestRequest struct {
	SellerDID    string `json:"sellerDid"`
	ListingTitle string `json:"listingTitle"`
	ListingPath  string `json:"listingPath"`
	BuyerHandle  string `json:"buyerHandle"`
	BuyerDID     string `json:"buyerDid"`
}

// Missing lists required fields that are empty. ListingPath is optional.
func (r InterestRequest) Missing() []string {
	var missing []string
	if strings.TrimSpace(r.SellerDID) == "" {
		missing = append(missing, "sellerDid")
	}
	if strings.TrimSpace(r.ListingTitle) == "" {
		missing = append(missing, "listingTitle")
	}
	if strings.TrimSpace(r.BuyerHandle) == "" {
		missing = append(missing, "buyerHandle")
	}
	if strings.TrimSpace(r.BuyerDID) == "" {
		missing = append(missing, "buyerDid")
	}
	return missing
}

// InterestResponse is the success body of POST /notify.
type InterestResponse struct {
	Success           bool `json:"success"`
	RemainingRequests int  `json:"remainingRequests"`
	ResetInMinutes    int  `json:"resetInMinutes"`
}

// RateLimitedResponse is the 429 body of POST /notify.
type RateLimitedResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RemainingRequests int    `json:"remainingRequests"`
	ResetInMinutes    int    `json:"resetInMinutes"`
}

// ReportRequest is the body of POST /admin/report.
type ReportRequest struct {
	ListingURI  string `json:"listingUri"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	ReporterDID string `json:"reporterDid"`
}

// Listing identifies a marketplace listing from the buyer's side.
type Listing struct {
	URI       string `json:"uri"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	SellerDID string `json:"sellerDid"`
}

// InterestMessage composes the DM the bot sends to a seller.
func InterestMessage(buyerHandle, listingTitle, listingPath string) string {
	handle := strings.TrimPrefix(buyerHandle, "@")
	return fmt.Sprintf("Hi! User @%s is interested in your listing: \"%s\".\n\n"+
		"They cannot message you directly due to your privacy settings.\n\n"+
		"Please follow them back to enable direct chat: https://bsky.app/profile/%s\n\n"+
		"Listing: %s",
		handle, listingTitle, handle, listingPath)
}

// ReportMessage composes the DM the bot sends to the admin account.
func ReportMessage(r ReportRequest) string {
	description := strings.TrimSpace(r.Description)
	if description == "" {
		description = "No description provided."
	}
	return fmt.Sprintf("🚨 REPORT RECEIVED 🚨\n\n"+
		"Reason: %s\n"+
		"Listing: %s\n"+
		"Reporter: %s\n\n"+
		"Description:\n%s\n\n"+
		"[Action Required] Check this listing.",
		r.Reason, r.ListingURI, r.ReporterDID, description)
}
