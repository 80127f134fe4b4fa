package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterestRequestMissing(t *testing.T) {
	assert.Empty(t, InterestRequest{
		SellerDID: "did:plc:s", ListingTitle: "Bike", BuyerHandle: "b.test", BuyerDID: "did:plc:b",
	}.Missing())

	assert.Equal(t, []string{"sellerDid", "buyerDid"}, InterestRequest{
		ListingTitle: "Bike", BuyerHandle: "b.test", BuyerDID: "  ",
	}.Missing())
}

func TestInterestMessage(t *testing.T) {
	msg := InterestMessage("@buyer.test", "Blue bike", "/listing/abc")
	assert.Contains(t, msg, `User @buyer.test is interested in your listing: "Blue bike".`)
	assert.Contains(t, msg, "https://bsky.app/profile/buyer.test")
	assert.Contains(t, msg, "Listing: /listing/abc")
}

func TestReportMessageDefaultsDescription(t *testing.T) {
	msg := ReportMessage(ReportRequest{ListingURI: "at://x", Reason: "spam", ReporterDID: "did:plc:r"})
	assert.Contains(t, msg, "Reason: spam\nListing: at://x\nReporter: did:plc:r")
	assert.Contains(t, msg, "Description:\nNo description provided.")
}
